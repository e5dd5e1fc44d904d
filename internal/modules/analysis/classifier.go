package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/modules/prep/prompts"
	"github.com/yungbote/sparring-backend/internal/observability"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/pkg/httpx"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const (
	defaultMemoSize    = 4096
	defaultMaxAttempts = 3
)

// classificationSchema is the fixed output shape for every scenario.
var classificationSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"detections", "preconditions_met"},
	"properties": map[string]any{
		"detections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"technique_id", "score", "justification"},
				"properties": map[string]any{
					"technique_id":  map[string]any{"type": "string"},
					"score":         map[string]any{"type": "number"},
					"justification": map[string]any{"type": "string"},
				},
			},
		},
		"preconditions_met": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"technique_id", "evidence", "suggested_response"},
				"properties": map[string]any{
					"technique_id":       map[string]any{"type": "string"},
					"evidence":           map[string]any{"type": "string"},
					"suggested_response": map[string]any{"type": "string"},
				},
			},
		},
	},
}

type rawClassification struct {
	Detections []struct {
		TechniqueID   string  `json:"technique_id"`
		Score         float64 `json:"score"`
		Justification string  `json:"justification"`
	} `json:"detections"`
	PreconditionsMet []struct {
		TechniqueID       string `json:"technique_id"`
		Evidence          string `json:"evidence"`
		SuggestedResponse string `json:"suggested_response"`
	} `json:"preconditions_met"`
}

// Classifier maps one exchange to technique detections and missed
// opportunities. Identical requests are served from an in-memory memo.
type Classifier struct {
	log         *logger.Logger
	gen         ports.Generator
	memo        *lru.Cache[string, analysis.Classification]
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewClassifier(log *logger.Logger, gen ports.Generator, memoSize int) (*Classifier, error) {
	if gen == nil {
		return nil, fmt.Errorf("classifier: generator required")
	}
	if memoSize <= 0 {
		memoSize = defaultMemoSize
	}
	memo, err := lru.New[string, analysis.Classification](memoSize)
	if err != nil {
		return nil, fmt.Errorf("classifier memo: %w", err)
	}
	return &Classifier{
		log:         log.With("component", "TechniqueClassifier"),
		gen:         gen,
		memo:        memo,
		maxAttempts: defaultMaxAttempts,
		backoff:     time.Second,
		sleep:       sleepCtx,
	}, nil
}

// Request is one exchange to classify with its preceding context.
type Request struct {
	Scenario *scenario.Definition
	Inputs   map[string]string
	Exchange live.Exchange
	Prior    []live.Exchange
}

func (c *Classifier) Classify(ctx context.Context, req Request) (analysis.Classification, error) {
	def := req.Scenario
	cfg := def.Analysis
	prior := renderPrior(req.Prior)
	exchange := req.Exchange.Render()
	key := Fingerprint(cfg.TaxonomyVersion, def.ID, strconv.Itoa(req.Exchange.Seq), prior, exchange)
	if cached, ok := c.memo.Get(key); ok {
		observability.Current().IncClassifierMemo(true)
		return cloneClassification(cached), nil
	}
	observability.Current().IncClassifierMemo(false)

	ctx, span := observability.Tracer("analysis").Start(ctx, "analysis.classify")
	span.SetAttributes(attribute.String("scenario", def.ID), attribute.Int("exchange_seq", req.Exchange.Seq))
	defer span.End()

	runtime := map[string]string{
		"scenario_name":    def.Name,
		"techniques":       renderTaxonomy(cfg),
		"exchange":         exchange,
		"prior_context":    prior,
		"score_min":        formatScore(cfg.ScoreMin),
		"score_max":        formatScore(cfg.ScoreMax),
		"taxonomy_version": cfg.TaxonomyVersion,
	}
	prompt, err := prompts.Compose(def.ID+".analysis", cfg.Prompt, prompts.ValuesFor(def, nil, req.Inputs, runtime))
	if err != nil {
		return analysis.Classification{}, err
	}

	genReq := ports.GenerateRequest{
		Op:          "analysis.classify",
		System:      "You are a strict rhetoric judge. Only report techniques from the given taxonomy. Output JSON only.",
		Prompt:      prompt.Text,
		Temperature: 0,
		Shape: ports.OutputShape{
			Kind:       scenario.OutputJSON,
			SchemaName: "technique_classification",
			Schema:     classificationSchema,
		},
	}

	var raw rawClassification
	for attempt := 1; ; attempt++ {
		raw, err = c.call(ctx, genReq)
		if err == nil {
			break
		}
		if !pkgerrors.IsTransient(err) || attempt >= c.maxAttempts {
			span.RecordError(err)
			return analysis.Classification{}, err
		}
		backoff := httpx.JitterSleep(c.backoff * time.Duration(1<<(attempt-1)))
		c.log.Warn("classification retry", "exchange_seq", req.Exchange.Seq, "attempt", attempt, "error", err)
		if serr := c.sleep(ctx, backoff); serr != nil {
			return analysis.Classification{}, serr
		}
	}

	out := postProcess(cfg, req.Exchange.Seq, raw)
	c.memo.Add(key, cloneClassification(out))
	return out, nil
}

func (c *Classifier) call(ctx context.Context, req ports.GenerateRequest) (rawClassification, error) {
	res, err := c.gen.Generate(ctx, req)
	if err != nil {
		return rawClassification{}, err
	}
	body := res.JSON
	if len(body) == 0 {
		body = json.RawMessage(strings.TrimSpace(res.Text))
	}
	var raw rawClassification
	if err := json.Unmarshal(body, &raw); err != nil {
		return rawClassification{}, pkgerrors.Transient(req.Op, fmt.Errorf("decode classification: %w", err))
	}
	return raw, nil
}

// postProcess drops unknown technique ids, clamps scores into range, keeps
// the best detection per technique and orders everything by taxonomy.
// Missed opportunities are met preconditions with no matching detection.
func postProcess(cfg scenario.AnalysisConfig, seq int, raw rawClassification) analysis.Classification {
	index := cfg.TechniqueIndex()
	best := map[string]analysis.TechniqueDetection{}
	for _, d := range raw.Detections {
		id := strings.TrimSpace(d.TechniqueID)
		if _, ok := index[id]; !ok {
			continue
		}
		score := clamp(d.Score, cfg.ScoreMin, cfg.ScoreMax)
		if prev, ok := best[id]; ok && prev.Score >= score {
			continue
		}
		best[id] = analysis.TechniqueDetection{
			ExchangeSeq:   seq,
			TechniqueID:   id,
			Score:         score,
			Justification: strings.TrimSpace(d.Justification),
		}
	}

	missed := map[string]analysis.MissedOpportunity{}
	for _, p := range raw.PreconditionsMet {
		id := strings.TrimSpace(p.TechniqueID)
		if _, ok := index[id]; !ok {
			continue
		}
		if _, detected := best[id]; detected {
			continue
		}
		if _, dup := missed[id]; dup {
			continue
		}
		missed[id] = analysis.MissedOpportunity{
			ExchangeSeq:       seq,
			TechniqueID:       id,
			Evidence:          strings.TrimSpace(p.Evidence),
			SuggestedResponse: strings.TrimSpace(p.SuggestedResponse),
		}
	}

	out := analysis.Classification{ExchangeSeq: seq}
	for _, d := range best {
		out.Detections = append(out.Detections, d)
	}
	for _, m := range missed {
		out.Missed = append(out.Missed, m)
	}
	sort.Slice(out.Detections, func(i, j int) bool {
		return index[out.Detections[i].TechniqueID] < index[out.Detections[j].TechniqueID]
	})
	sort.Slice(out.Missed, func(i, j int) bool {
		return index[out.Missed[i].TechniqueID] < index[out.Missed[j].TechniqueID]
	})
	return out
}

func renderTaxonomy(cfg scenario.AnalysisConfig) string {
	var sb strings.Builder
	for i, t := range cfg.Techniques {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s (%s): %s", t.ID, t.Name, t.Criteria)
		if t.Precondition != "" {
			fmt.Fprintf(&sb, " Precondition: %s", t.Precondition)
		}
	}
	return sb.String()
}

func renderPrior(prior []live.Exchange) string {
	if len(prior) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(prior))
	for _, ex := range prior {
		parts = append(parts, fmt.Sprintf("[%d]\n%s", ex.Seq, ex.Render()))
	}
	return strings.Join(parts, "\n\n")
}

// Fingerprint hashes its parts with a separator that cannot appear in them.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cloneClassification(c analysis.Classification) analysis.Classification {
	c.Detections = append([]analysis.TechniqueDetection(nil), c.Detections...)
	c.Missed = append([]analysis.MissedOpportunity(nil), c.Missed...)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
