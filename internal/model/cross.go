package model

import (
	"encoding/json"
	"fmt"
)

// ScraperCrossRequest is the continuation envelope a worker emits when it could
// not finish in one session. All organization and resume fields are required.
type ScraperCrossRequest struct {
	PubsubChannelName string          `json:"pubsubChannelName"`
	OrgInfo           string          `json:"orgInfo,omitempty"`
	OrgID             string          `json:"orgId"`
	OrgName           string          `json:"orgName"`
	LastProgress      ScraperProgress `json:"lastProgress"`
	NextReviewPageURL string          `json:"nextReviewPageUrl"`
	ScrapeMode        ScrapeMode      `json:"scrapeMode"`
	StopPage          *int            `json:"stopPage,omitempty"`
	ShardIndex        *int            `json:"shardIndex,omitempty"`
}

// CrossRequest is the single structural predicate deciding whether r is a
// valid continuation envelope. Both tasks validate envelopes through it.
func (r ScraperJobRequest) CrossRequest() (ScraperCrossRequest, error) {
	missing := func(name string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidCrossRequest, name)
	}
	switch {
	case r.OrgID == "":
		return ScraperCrossRequest{}, missing("orgId")
	case r.OrgName == "":
		return ScraperCrossRequest{}, missing("orgName")
	case r.LastProgress == nil:
		return ScraperCrossRequest{}, missing("lastProgress")
	case r.NextReviewPageURL == "":
		return ScraperCrossRequest{}, missing("nextReviewPageUrl")
	case r.ScrapeMode == "":
		return ScraperCrossRequest{}, missing("scrapeMode")
	}
	if !r.ScrapeMode.Valid() {
		return ScraperCrossRequest{}, fmt.Errorf("%w: unknown scrapeMode %q", ErrInvalidCrossRequest, r.ScrapeMode)
	}
	if err := r.LastProgress.Validate(); err != nil {
		return ScraperCrossRequest{}, fmt.Errorf("%w: %w", ErrInvalidCrossRequest, err)
	}
	return ScraperCrossRequest{
		PubsubChannelName: r.PubsubChannelName,
		OrgInfo:           r.OrgInfo,
		OrgID:             r.OrgID,
		OrgName:           r.OrgName,
		LastProgress:      *r.LastProgress,
		NextReviewPageURL: r.NextReviewPageURL,
		ScrapeMode:        r.ScrapeMode,
		StopPage:          r.StopPage,
		ShardIndex:        r.ShardIndex,
	}, nil
}

// ParseCrossRequest decodes raw JSON and validates it as a continuation envelope.
func ParseCrossRequest(raw []byte) (ScraperCrossRequest, error) {
	var r ScraperJobRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		return ScraperCrossRequest{}, fmt.Errorf("%w: %w", ErrInvalidCrossRequest, err)
	}
	return r.CrossRequest()
}

// JobRequest converts the envelope back into a Scraper Job payload. No field is dropped.
func (c ScraperCrossRequest) JobRequest() ScraperJobRequest {
	p := c.LastProgress
	return ScraperJobRequest{
		PubsubChannelName: c.PubsubChannelName,
		OrgInfo:           c.OrgInfo,
		OrgID:             c.OrgID,
		OrgName:           c.OrgName,
		LastProgress:      &p,
		NextReviewPageURL: c.NextReviewPageURL,
		ScrapeMode:        c.ScrapeMode,
		StopPage:          c.StopPage,
		ShardIndex:        c.ShardIndex,
	}
}
