package model

import (
	"encoding/json"
	"errors"
)

// SupervisorJobRequest is the payload of a Supervisor Job. Callers set one of
// the work describing fields, Work decides which one is used.
type SupervisorJobRequest struct {
	OrgInfo               string             `json:"orgInfo,omitempty"`
	OrgInfoList           []string           `json:"orgInfoList,omitempty"`
	ScraperJobRequestData *ScraperJobRequest `json:"scraperJobRequestData,omitempty"`
	CrossRequestData      json.RawMessage    `json:"crossRequestData,omitempty"`
}

// Work is the resolved shape of a SupervisorJobRequest, it is either a
// CrossWork or a ListWork.
type Work interface {
	isWork()
}

// CrossWork resumes a single organization from a continuation envelope.
type CrossWork struct {
	Request ScraperCrossRequest
}

// ListWork scrapes the items in order. An empty list is a benign no-op.
type ListWork struct {
	Items []ScraperJobRequest
}

func (CrossWork) isWork() {}
func (ListWork) isWork()  {}

// Labels returns a label of every item, used to report unfinished work.
func (w ListWork) Labels() []string {
	out := make([]string, 0, len(w.Items))
	for _, it := range w.Items {
		out = append(out, it.Label())
	}
	return out
}

// Work resolves the request once. Precedence: a valid crossRequestData, then
// scraperJobRequestData, then orgInfo, then orgInfoList. An invalid
// crossRequestData is reported through the returned error, together with the
// fallback work, so that the caller can log it.
func (r SupervisorJobRequest) Work() (Work, error) {
	var crossErr error
	if len(r.CrossRequestData) > 0 && string(r.CrossRequestData) != "null" {
		cross, err := ParseCrossRequest(r.CrossRequestData)
		if err == nil {
			return CrossWork{Request: cross}, nil
		}
		crossErr = err
	}

	var items []ScraperJobRequest
	switch {
	case r.ScraperJobRequestData != nil:
		items = []ScraperJobRequest{*r.ScraperJobRequestData}
	case r.OrgInfo != "":
		items = []ScraperJobRequest{{OrgInfo: r.OrgInfo}}
	default:
		items = make([]ScraperJobRequest, 0, len(r.OrgInfoList))
		for _, org := range r.OrgInfoList {
			items = append(items, ScraperJobRequest{OrgInfo: org})
		}
	}
	return ListWork{Items: items}, crossErr
}

// NewCrossSupervisorRequest builds a request resuming from a continuation envelope.
func NewCrossSupervisorRequest(c ScraperCrossRequest) (SupervisorJobRequest, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return SupervisorJobRequest{}, err
	}
	return SupervisorJobRequest{CrossRequestData: raw}, nil
}

// IsEmpty is true when the request describes no work at all.
func (r SupervisorJobRequest) IsEmpty() bool {
	return r.OrgInfo == "" && len(r.OrgInfoList) == 0 && r.ScraperJobRequestData == nil && len(r.CrossRequestData) == 0
}

// ErrEmptySupervisorRequest rejects a request for which IsEmpty holds.
var ErrEmptySupervisorRequest = errors.New("supervisor request describes no work")
