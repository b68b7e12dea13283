package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ScraperJobReturn is the result of a Scraper Job: either a terminal success
// message or a continuation envelope which must be re-dispatched.
type ScraperJobReturn struct {
	Message string
	Cross   *ScraperCrossRequest
}

func Succeeded(msg string) ScraperJobReturn {
	return ScraperJobReturn{Message: msg}
}

func Continued(c ScraperCrossRequest) ScraperJobReturn {
	return ScraperJobReturn{Cross: &c}
}

func (r ScraperJobReturn) IsContinuation() bool {
	return r.Cross != nil
}

// String summarizes the result for notifications.
func (r ScraperJobReturn) String() string {
	if r.Cross == nil {
		return r.Message
	}
	p := r.Cross.LastProgress
	return fmt.Sprintf("continuation for %s (%s): %d/%d reviews, page %d, session %d",
		r.Cross.OrgName, r.Cross.OrgID, p.WentThrough, p.Total, p.Page, p.ProcessedSession)
}

// MarshalJSON encodes a success as a JSON string and a continuation as an object.
func (r ScraperJobReturn) MarshalJSON() ([]byte, error) {
	if r.Cross != nil {
		return json.Marshal(r.Cross)
	}
	return json.Marshal(r.Message)
}

func (r *ScraperJobReturn) UnmarshalJSON(b []byte) error {
	v, err := ParseScraperJobReturn(b)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseScraperJobReturn accepts a JSON string or a valid continuation
// envelope, anything else is ErrIllegalResult.
func ParseScraperJobReturn(raw []byte) (ScraperJobReturn, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ScraperJobReturn{}, fmt.Errorf("%w: empty result", ErrIllegalResult)
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ScraperJobReturn{}, fmt.Errorf("%w: %w", ErrIllegalResult, err)
		}
		return Succeeded(s), nil
	case '{':
		c, err := ParseCrossRequest(trimmed)
		if err != nil {
			return ScraperJobReturn{}, fmt.Errorf("%w: %w", ErrIllegalResult, err)
		}
		return Continued(c), nil
	default:
		return ScraperJobReturn{}, fmt.Errorf("%w: %s", ErrIllegalResult, trimmed)
	}
}
