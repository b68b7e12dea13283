package model

import (
	"strconv"
	"strings"
)

type ScrapeMode string

const (
	ScrapeModeRegular ScrapeMode = "regular"
	ScrapeModeRenewal ScrapeMode = "renewal"
)

func (m ScrapeMode) Valid() bool {
	return m == ScrapeModeRegular || m == ScrapeModeRenewal
}

// ScraperJobRequest is the payload of a Scraper Job.
//
// A first time scrape only knows OrgInfo (a free-form name or URL). Once the
// worker resolved the organization, OrgID and OrgName are set and a
// continuation additionally carries LastProgress and NextReviewPageURL.
type ScraperJobRequest struct {
	PubsubChannelName string           `json:"pubsubChannelName"`
	OrgInfo           string           `json:"orgInfo,omitempty"`
	OrgID             string           `json:"orgId,omitempty"`
	OrgName           string           `json:"orgName,omitempty"`
	LastProgress      *ScraperProgress `json:"lastProgress,omitempty"`
	NextReviewPageURL string           `json:"nextReviewPageUrl,omitempty"`
	ScrapeMode        ScrapeMode       `json:"scrapeMode,omitempty"`
	StopPage          *int             `json:"stopPage,omitempty"`
	ShardIndex        *int             `json:"shardIndex,omitempty"`
}

// Label returns the most specific human readable identifier of the organization.
func (r ScraperJobRequest) Label() string {
	switch {
	case r.OrgName != "":
		return r.OrgName
	case r.OrgID != "":
		return r.OrgID
	default:
		return r.OrgInfo
	}
}

// QuoteOrgName wraps name in double quotes unless it is already quoted on both ends.
// The scraper worker's argument parser splits unquoted multi-word names.
func QuoteOrgName(name string) string {
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return name
	}
	return `"` + name + `"`
}

// WithQuotedOrgName returns a copy of r with a quoted OrgName, r is not modified.
func (r ScraperJobRequest) WithQuotedOrgName() ScraperJobRequest {
	if r.OrgName == "" {
		return r
	}
	r.OrgName = QuoteOrgName(r.OrgName)
	return r
}

// Environment variable names understood by the scraper worker.
const (
	EnvPubsubChannelName       = "SUPERVISOR_PUBSUB_CHANNEL_NAME"
	EnvOrgInfo                 = "TEST_COMPANY_INFORMATION_STRING"
	EnvOrgID                   = "TEST_COMPANY_ID"
	EnvOrgName                 = "TEST_COMPANY_NAME"
	EnvLastProgressProcessed   = "TEST_COMPANY_LAST_PROGRESS_PROCESSED"
	EnvLastProgressWentThrough = "TEST_COMPANY_LAST_PROGRESS_WENTTHROUGH"
	EnvLastProgressTotal       = "TEST_COMPANY_LAST_PROGRESS_TOTAL"
	EnvLastProgressDuration    = "TEST_COMPANY_LAST_PROGRESS_DURATION"
	EnvLastProgressPage        = "TEST_COMPANY_LAST_PROGRESS_PAGE"
	EnvLastProgressSession     = "TEST_COMPANY_LAST_PROGRESS_SESSION"
	EnvNextReviewPageURL       = "TEST_COMPANY_LAST_REVIEW_PAGE_URL"
	EnvScrapeMode              = "SCRAPER_MODE"
	EnvStopPage                = "TEST_COMPANY_STOP_AT_PAGE"
	EnvShardIndex              = "TEST_COMPANY_SHARD_INDEX"
)

// Env maps the request to the flat environment of a worker execution.
// Absent optional fields are not emitted.
func (r ScraperJobRequest) Env() map[string]string {
	env := map[string]string{
		EnvPubsubChannelName: r.PubsubChannelName,
	}
	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set(EnvOrgInfo, r.OrgInfo)
	set(EnvOrgID, r.OrgID)
	set(EnvOrgName, r.OrgName)
	set(EnvNextReviewPageURL, r.NextReviewPageURL)
	set(EnvScrapeMode, string(r.ScrapeMode))
	if p := r.LastProgress; p != nil {
		env[EnvLastProgressProcessed] = strconv.Itoa(p.Processed)
		env[EnvLastProgressWentThrough] = strconv.Itoa(p.WentThrough)
		env[EnvLastProgressTotal] = strconv.Itoa(p.Total)
		env[EnvLastProgressDuration] = p.DurationInMilli
		env[EnvLastProgressPage] = strconv.Itoa(p.Page)
		env[EnvLastProgressSession] = strconv.Itoa(p.ProcessedSession)
	}
	if r.StopPage != nil {
		env[EnvStopPage] = strconv.Itoa(*r.StopPage)
	}
	if r.ShardIndex != nil {
		env[EnvShardIndex] = strconv.Itoa(*r.ShardIndex)
	}
	return env
}
