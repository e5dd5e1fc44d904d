package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

// TranscriptFingerprint identifies a transcript under one taxonomy version.
// A stored report with the same fingerprint is reused instead of recomputed.
func TranscriptFingerprint(taxonomyVersion string, transcript []live.Exchange) string {
	parts := []string{taxonomyVersion}
	for _, ex := range transcript {
		parts = append(parts, strconv.Itoa(ex.Seq), ex.Render())
	}
	return Fingerprint(parts...)
}

// Aggregate folds per-exchange classifications into a report. It is pure:
// the same inputs always produce the same report. CreatedAt is left for the
// caller to stamp.
func Aggregate(cfg scenario.AnalysisConfig, sessionID uuid.UUID, transcript []live.Exchange, classifications []analysis.Classification) analysis.Report {
	index := cfg.TechniqueIndex()
	less := func(seqA int, idA string, seqB int, idB string) bool {
		if seqA != seqB {
			return seqA < seqB
		}
		return index[idA] < index[idB]
	}

	var detections []analysis.TechniqueDetection
	var missed []analysis.MissedOpportunity
	seenMissed := map[string]bool{}
	for _, c := range classifications {
		for _, d := range c.Detections {
			if _, ok := index[d.TechniqueID]; !ok {
				continue
			}
			detections = append(detections, d)
		}
		for _, m := range c.Missed {
			if _, ok := index[m.TechniqueID]; !ok {
				continue
			}
			key := strconv.Itoa(m.ExchangeSeq) + "/" + m.TechniqueID
			if seenMissed[key] {
				continue
			}
			seenMissed[key] = true
			missed = append(missed, m)
		}
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return less(detections[i].ExchangeSeq, detections[i].TechniqueID, detections[j].ExchangeSeq, detections[j].TechniqueID)
	})
	sort.SliceStable(missed, func(i, j int) bool {
		return less(missed[i].ExchangeSeq, missed[i].TechniqueID, missed[j].ExchangeSeq, missed[j].TechniqueID)
	})

	report := analysis.Report{
		SessionID:       sessionID,
		TaxonomyVersion: cfg.TaxonomyVersion,
		Fingerprint:     TranscriptFingerprint(cfg.TaxonomyVersion, transcript),
		Detections:      detections,
		Missed:          missed,
	}

	var observedSum float64
	observed := 0
	for _, cat := range cfg.Categories {
		cs := scoreCategory(cfg, cat, detections)
		if cs.Observed {
			observedSum += cs.Score
			observed++
		}
		report.Categories = append(report.Categories, cs)
	}
	if observed > 0 {
		report.Overall = round1(observedSum / float64(observed))
	}
	report.Feedback = summarize(cfg, report)
	return report
}

// scoreCategory is the weighted mean of in-category detection scores,
// mapped from [ScoreMin, ScoreMax] onto [0, Scale]. A category with no
// detections reports its Floor and is marked unobserved.
func scoreCategory(cfg scenario.AnalysisConfig, cat scenario.ScoreCategory, detections []analysis.TechniqueDetection) analysis.CategoryScore {
	cs := analysis.CategoryScore{
		Name:        cat.Name,
		Scale:       cat.Scale,
		Description: cat.Description,
	}
	var sum, weights float64
	for _, d := range detections {
		if !cat.Includes(d.TechniqueID) {
			continue
		}
		w := cat.Weight(d.TechniqueID)
		sum += w * d.Score
		weights += w
		cs.Detections++
	}
	if cs.Detections == 0 || weights == 0 {
		cs.Score = cat.Floor
		return cs
	}
	mean := sum / weights
	span := cfg.ScoreMax - cfg.ScoreMin
	norm := 0.0
	if span > 0 {
		norm = (mean - cfg.ScoreMin) / span
	}
	norm = math.Max(0, math.Min(1, norm))
	cs.Score = round1(norm * cat.Scale)
	cs.Observed = true
	return cs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func summarize(cfg scenario.AnalysisConfig, r analysis.Report) string {
	var sb strings.Builder
	var strongest, weakest *analysis.CategoryScore
	for i := range r.Categories {
		c := &r.Categories[i]
		if !c.Observed {
			continue
		}
		if strongest == nil || ratio(*c) > ratio(*strongest) {
			strongest = c
		}
		if weakest == nil || ratio(*c) < ratio(*weakest) {
			weakest = c
		}
	}
	if strongest == nil {
		sb.WriteString("No techniques from the taxonomy were detected, so every category reports its floor.")
	} else {
		fmt.Fprintf(&sb, "Overall %s across %d detected technique(s).", formatScore(r.Overall), len(r.Detections))
		fmt.Fprintf(&sb, " Strongest: %s (%s/%s).", strongest.Name, formatScore(strongest.Score), formatScore(strongest.Scale))
		if weakest != strongest {
			fmt.Fprintf(&sb, " Weakest: %s (%s/%s).", weakest.Name, formatScore(weakest.Score), formatScore(weakest.Scale))
		}
	}
	var unobserved []string
	for _, c := range r.Categories {
		if !c.Observed {
			unobserved = append(unobserved, c.Name)
		}
	}
	if strongest != nil && len(unobserved) > 0 {
		fmt.Fprintf(&sb, " Not observed: %s.", strings.Join(unobserved, ", "))
	}
	if n := len(r.Missed); n > 0 {
		first := r.Missed[0]
		name := first.TechniqueID
		if t, ok := cfg.Technique(first.TechniqueID); ok {
			name = t.Name
		}
		fmt.Fprintf(&sb, " %d missed opportunit%s; the first was %s in exchange %d.", n, plural(n, "y", "ies"), name, first.ExchangeSeq)
	}
	return sb.String()
}

func ratio(c analysis.CategoryScore) float64 {
	if c.Scale == 0 {
		return 0
	}
	return c.Score / c.Scale
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// FeedbackRuntime supplies the runtime keys of the feedback template.
func FeedbackRuntime(def *scenario.Definition, r analysis.Report) map[string]string {
	var scores []string
	for _, c := range r.Categories {
		line := fmt.Sprintf("- %s: %s/%s", c.Name, formatScore(c.Score), formatScore(c.Scale))
		if !c.Observed {
			line += " (not observed)"
		}
		scores = append(scores, line)
	}
	var missed []string
	for _, m := range r.Missed {
		name := m.TechniqueID
		if t, ok := def.Analysis.Technique(m.TechniqueID); ok {
			name = t.Name
		}
		missed = append(missed, fmt.Sprintf("- exchange %d, %s: %s", m.ExchangeSeq, name, m.Evidence))
	}
	if len(missed) == 0 {
		missed = []string{"(none)"}
	}
	return map[string]string{
		"scenario_name": def.Name,
		"scores":        strings.Join(scores, "\n"),
		"missed":        strings.Join(missed, "\n"),
		"overall":       formatScore(r.Overall),
	}
}
