package ports

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

type OutputShape struct {
	Kind       scenario.OutputKind
	SchemaName string
	Schema     map[string]any
}

type GenerateRequest struct {
	// Op labels the call in logs and metrics.
	Op          string
	System      string
	Prompt      string
	Shape       OutputShape
	Temperature float64
}

type GenerateResult struct {
	Text string
	JSON json.RawMessage
}

// Generator is the text-generation capability. Implementations return
// errors wrapped as TransientExternalError or FatalExternalError.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

type ResearchQuery struct {
	Query   string
	Sources []string
}

type Findings struct {
	Summary     string
	Points      []string
	Sources     []string
	Unreachable []string
}

// Researcher may run for minutes. Unreachable sources are reported in
// Findings, not as an error.
type Researcher interface {
	Research(ctx context.Context, q ResearchQuery) (Findings, error)
}

type EntitlementGate interface {
	Authorized(ctx context.Context, sessionID uuid.UUID) (bool, error)
}
