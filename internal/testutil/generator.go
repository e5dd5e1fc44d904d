package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

// Step is one scripted reply.
type Step struct {
	Text string
	JSON string
	Err  error
}

// FakeGenerator replays scripted steps per request Op. Once a script is
// exhausted its last step repeats. Ops with no script get a canned reply
// that satisfies the requested output shape.
type FakeGenerator struct {
	mu      sync.Mutex
	scripts map[string][]Step
	calls   map[string]int
	reqs    []ports.GenerateRequest

	// Respond, when set, handles ops that have no script.
	Respond func(req ports.GenerateRequest) (ports.GenerateResult, error)
}

func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{scripts: map[string][]Step{}, calls: map[string]int{}}
}

func (g *FakeGenerator) Script(op string, steps ...Step) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[op] = steps
	return g
}

func (g *FakeGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.GenerateResult{}, err
	}
	g.mu.Lock()
	n := g.calls[req.Op]
	g.calls[req.Op] = n + 1
	g.reqs = append(g.reqs, req)
	steps, scripted := g.scripts[req.Op]
	respond := g.Respond
	g.mu.Unlock()

	if !scripted || len(steps) == 0 {
		if respond != nil {
			return respond(req)
		}
		return canned(req), nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	st := steps[n]
	if st.Err != nil {
		return ports.GenerateResult{}, st.Err
	}
	return ports.GenerateResult{Text: st.Text, JSON: json.RawMessage(st.JSON)}, nil
}

func canned(req ports.GenerateRequest) ports.GenerateResult {
	if req.Shape.Kind == scenario.OutputJSON {
		return ports.GenerateResult{JSON: json.RawMessage(`{"items":[]}`)}
	}
	return ports.GenerateResult{Text: fmt.Sprintf("generated %s", req.Op)}
}

// Calls returns how many times op was requested.
func (g *FakeGenerator) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *FakeGenerator) Requests() []ports.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.GenerateRequest(nil), g.reqs...)
}
