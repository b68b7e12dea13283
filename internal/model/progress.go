package model

import (
	"encoding/json"
	"fmt"
)

// ScraperProgress is reported by a worker in PROGRESS messages and carried in
// continuation envelopes as the last known state of a scrape.
type ScraperProgress struct {
	Processed         int    `json:"processed"`
	WentThrough       int    `json:"wentThrough"`
	Total             int    `json:"total"`
	DurationInMilli   string `json:"durationInMilli"`
	Page              int    `json:"page"`
	ProcessedSession  int    `json:"processedSession"`
	ElapsedTimeString string `json:"elapsedTimeString,omitempty"`
}

// scraperProgressWire detects absent keys, zero values are legal progress values
type scraperProgressWire struct {
	Processed         *int    `json:"processed"`
	WentThrough       *int    `json:"wentThrough"`
	Total             *int    `json:"total"`
	DurationInMilli   *string `json:"durationInMilli"`
	Page              *int    `json:"page"`
	ProcessedSession  *int    `json:"processedSession"`
	ElapsedTimeString string  `json:"elapsedTimeString"`
}

// UnmarshalJSON requires every mandatory key to be present.
func (p *ScraperProgress) UnmarshalJSON(b []byte) error {
	var w scraperProgressWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProgress, err)
	}
	missing := func(name string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidProgress, name)
	}
	switch {
	case w.Processed == nil:
		return missing("processed")
	case w.WentThrough == nil:
		return missing("wentThrough")
	case w.Total == nil:
		return missing("total")
	case w.DurationInMilli == nil:
		return missing("durationInMilli")
	case w.Page == nil:
		return missing("page")
	case w.ProcessedSession == nil:
		return missing("processedSession")
	}
	*p = ScraperProgress{
		Processed:         *w.Processed,
		WentThrough:       *w.WentThrough,
		Total:             *w.Total,
		DurationInMilli:   *w.DurationInMilli,
		Page:              *w.Page,
		ProcessedSession:  *w.ProcessedSession,
		ElapsedTimeString: w.ElapsedTimeString,
	}
	return nil
}

// Validate checks 0 <= wentThrough <= total.
func (p ScraperProgress) Validate() error {
	if p.WentThrough < 0 || p.Total < 0 || p.WentThrough > p.Total {
		return fmt.Errorf("%w: wentThrough %d out of range [0, %d]", ErrInvalidProgress, p.WentThrough, p.Total)
	}
	return nil
}

// ParseScraperProgress decodes and validates a PROGRESS payload.
func ParseScraperProgress(raw string) (ScraperProgress, error) {
	var p ScraperProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ScraperProgress{}, err
	}
	if err := p.Validate(); err != nil {
		return ScraperProgress{}, err
	}
	return p, nil
}
