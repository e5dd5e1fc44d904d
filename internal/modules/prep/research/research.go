package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const (
	OpDigest = "prep.research"

	defaultMaxSources   = 8
	defaultConcurrency  = 4
	defaultFetchTimeout = 20 * time.Second
	defaultMaxBytes     = 2 << 20
	defaultExcerptChars = 6000
)

type Config struct {
	MaxSources   int
	Concurrency  int
	FetchTimeout time.Duration
	MaxBytes     int64
	// ExcerptChars caps the text of each page handed to the digest prompt.
	ExcerptChars int
	// Allow defaults to PublicHTTPS.
	Allow URLPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxSources <= 0 {
		c.MaxSources = defaultMaxSources
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = defaultMaxBytes
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = defaultExcerptChars
	}
	if c.Allow == nil {
		c.Allow = PublicHTTPS
	}
	return c
}

// Researcher reads the user's source links and asks the generator for a
// findings digest grounded in them.
type Researcher struct {
	log    *logger.Logger
	gen    ports.Generator
	cfg    Config
	client *http.Client
}

func NewResearcher(log *logger.Logger, gen ports.Generator, cfg Config) (*Researcher, error) {
	if gen == nil {
		return nil, fmt.Errorf("research: generator required")
	}
	cfg = cfg.withDefaults()
	return &Researcher{
		log:    log.With("component", "Researcher"),
		gen:    gen,
		cfg:    cfg,
		client: newHTTPClient(cfg.FetchTimeout, cfg.Allow),
	}, nil
}

var digestSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"summary", "points"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"points": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

type digest struct {
	Summary string   `json:"summary"`
	Points  []string `json:"points"`
}

func (r *Researcher) Research(ctx context.Context, q ports.ResearchQuery) (ports.Findings, error) {
	sources := normalizeSources(q.Sources, r.cfg.MaxSources)
	pages, unreachable := r.fetchAll(ctx, sources)
	if err := ctx.Err(); err != nil {
		return ports.Findings{}, err
	}
	if len(unreachable) > 0 {
		r.log.Warn("research sources unreachable", "count", len(unreachable), "reached", len(pages))
	}

	res, err := r.gen.Generate(ctx, ports.GenerateRequest{
		Op:     OpDigest,
		System: digestSystem,
		Prompt: r.digestPrompt(q.Query, pages),
		Shape: ports.OutputShape{
			Kind:       scenario.OutputJSON,
			SchemaName: "research_digest",
			Schema:     digestSchema,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return ports.Findings{Unreachable: unreachable}, err
	}
	body := res.JSON
	if len(body) == 0 {
		body = json.RawMessage(strings.TrimSpace(res.Text))
	}
	var d digest
	if err := json.Unmarshal(body, &d); err != nil {
		return ports.Findings{Unreachable: unreachable}, pkgerrors.Transient(OpDigest, fmt.Errorf("decode digest: %w", err))
	}

	reached := make([]string, 0, len(pages))
	for _, p := range pages {
		reached = append(reached, p.URL)
	}
	return ports.Findings{
		Summary:     strings.TrimSpace(d.Summary),
		Points:      d.Points,
		Sources:     reached,
		Unreachable: unreachable,
	}, nil
}

// fetchAll keeps source order in its output regardless of completion order.
func (r *Researcher) fetchAll(ctx context.Context, sources []string) ([]Page, []string) {
	slots := make([]*Page, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if !r.cfg.Allow(gctx, src) {
				r.log.Debug("research source blocked", "url", src)
				return nil
			}
			p, err := fetchPage(gctx, r.client, src, r.cfg.MaxBytes)
			if err != nil {
				r.log.Debug("research source fetch failed", "url", src, "error", err)
				return nil
			}
			slots[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	var pages []Page
	var unreachable []string
	for i, p := range slots {
		if p == nil {
			unreachable = append(unreachable, sources[i])
			continue
		}
		pages = append(pages, *p)
	}
	return pages, unreachable
}

const digestSystem = `You prepare research findings for someone about to practise a high-stakes conversation.
Use only the provided source excerpts and the stated query. Do not invent statistics or quotes.
Each point is one self-contained factual sentence useful in the conversation.`

func (r *Researcher) digestPrompt(query string, pages []Page) string {
	var b strings.Builder
	b.WriteString("QUERY:\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\n")
	if len(pages) == 0 {
		b.WriteString("No sources could be read. Work from the query alone and keep points general.\n")
		return b.String()
	}
	for i, p := range pages {
		fmt.Fprintf(&b, "SOURCE %d: %s\n", i+1, p.URL)
		if p.Title != "" {
			fmt.Fprintf(&b, "TITLE: %s\n", p.Title)
		}
		b.WriteString(truncateRunes(p.Text, r.cfg.ExcerptChars))
		b.WriteString("\n\n")
	}
	return b.String()
}

func normalizeSources(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" || seen[s] {
			continue
		}
		if u, err := url.Parse(s); err != nil || u.Host == "" {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
