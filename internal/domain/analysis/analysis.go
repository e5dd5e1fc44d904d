package analysis

import (
	"time"

	"github.com/google/uuid"
)

type TechniqueDetection struct {
	ExchangeSeq   int     `json:"exchange_seq"`
	TechniqueID   string  `json:"technique_id"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

type MissedOpportunity struct {
	ExchangeSeq       int    `json:"exchange_seq"`
	TechniqueID       string `json:"technique_id"`
	Evidence          string `json:"evidence"`
	SuggestedResponse string `json:"suggested_response"`
}

// Classification is the classifier's verdict on one exchange.
type Classification struct {
	ExchangeSeq int                  `json:"exchange_seq"`
	Detections  []TechniqueDetection `json:"detections"`
	Missed      []MissedOpportunity  `json:"missed"`
}

type CategoryScore struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Scale       float64 `json:"scale"`
	Observed    bool    `json:"observed"`
	Detections  int     `json:"detections"`
	Description string  `json:"description,omitempty"`
}

type Report struct {
	SessionID       uuid.UUID            `json:"session_id"`
	TaxonomyVersion string               `json:"taxonomy_version"`
	Fingerprint     string               `json:"fingerprint"`
	Categories      []CategoryScore      `json:"categories"`
	Overall         float64              `json:"overall"`
	Detections      []TechniqueDetection `json:"detections"`
	Missed          []MissedOpportunity  `json:"missed_opportunities"`
	Feedback        string               `json:"feedback"`
	Narrative       string               `json:"narrative,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func (r *Report) Category(name string) (CategoryScore, bool) {
	for _, c := range r.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}
