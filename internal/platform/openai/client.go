package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/observability"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/pkg/httpx"
	"github.com/yungbote/sparring-backend/internal/platform/ctxutil"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/platform/promptstyle"
)

const responsesPath = "/v1/responses"

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxRetries covers rate limits only when the caller has no retry
	// policy of its own. The prep pipeline and classifier retry themselves.
	MaxRetries         int
	DisableTemperature bool
	// NoTemperatureModels is a comma list; a trailing "*" matches a prefix.
	NoTemperatureModels string
}

// ConfigFromEnv reads the OPENAI_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:              strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:               strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		Timeout:             180 * time.Second,
		DisableTemperature:  parseBoolEnv("OPENAI_DISABLE_TEMPERATURE", false),
		NoTemperatureModels: os.Getenv("OPENAI_NO_TEMPERATURE_MODELS"),
	}
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Timeout = time.Duration(parsed) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			cfg.MaxRetries = parsed
		}
	}
	return cfg, nil
}

// Client implements ports.Generator on the Responses API.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	sleep      func(time.Duration)

	disableTemperature bool
	noTempModels       map[string]bool
	noTempPrefixes     []string

	// Models that rejected temperature at runtime.
	noTempMu   sync.RWMutex
	noTempSeen map[string]bool
}

var _ ports.Generator = (*Client)(nil)

func NewClient(log *logger.Logger) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(log, cfg)
}

func NewClientWithConfig(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5.2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	models, prefixes := parseNoTempModelRules(cfg.NoTemperatureModels)
	return &Client{
		log:                log.With("service", "OpenAIClient"),
		baseURL:            baseURL,
		apiKey:             cfg.APIKey,
		model:              model,
		httpClient:         &http.Client{Timeout: timeout},
		maxRetries:         cfg.MaxRetries,
		sleep:              time.Sleep,
		disableTemperature: cfg.DisableTemperature,
		noTempModels:       models,
		noTempPrefixes:     prefixes,
		noTempSeen:         map[string]bool{},
	}, nil
}

func (c *Client) Model() string { return c.model }

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
	Text  struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func (r responsesResponse) outputText() (text, refusal string) {
	var out strings.Builder
	refusal = r.Refusal
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "output_text":
				out.WriteString(part.Text)
			case "refusal":
				if refusal == "" {
					refusal = part.Refusal
				}
			}
		}
	}
	return out.String(), refusal
}

// Generate sends one request. Rate limits, timeouts and 5xx come back as
// TransientExternalError; any other rejection, including a refusal, as
// FatalExternalError. A cancelled ctx is returned unwrapped.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GenerateResult, error) {
	op := req.Op
	if op == "" {
		op = "openai.generate"
	}
	mode := "text"
	if req.Shape.Kind == scenario.OutputJSON {
		mode = "json"
	}
	body := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: promptstyle.ApplySystem(req.System, mode)},
			{Role: "user", Content: req.Prompt},
		},
	}
	if mode == "json" {
		if req.Shape.Schema != nil {
			name := req.Shape.SchemaName
			if name == "" {
				name = "output"
			}
			body.Text.Format = map[string]any{
				"type":   "json_schema",
				"name":   name,
				"schema": req.Shape.Schema,
				"strict": true,
			}
		} else {
			body.Text.Format = map[string]any{"type": "json_object"}
		}
	}
	if !c.disableTemperature && !c.modelIsNoTemp(body.Model) {
		t := req.Temperature
		body.Temperature = &t
	}

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, op, &body, &resp); err != nil {
		return ports.GenerateResult{}, c.classify(ctx, op, err)
	}
	text, refusal := resp.outputText()
	if refusal != "" {
		return ports.GenerateResult{}, pkgerrors.Fatal(op, fmt.Errorf("model refused: %s", refusal))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ports.GenerateResult{}, pkgerrors.Transient(op, errors.New("no output_text in response"))
	}
	if mode == "json" {
		if !json.Valid([]byte(text)) {
			return ports.GenerateResult{}, pkgerrors.Transient(op, fmt.Errorf("model returned invalid JSON"))
		}
		return ports.GenerateResult{Text: text, JSON: json.RawMessage(text)}, nil
	}
	return ports.GenerateResult{Text: text}, nil
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		if httpx.IsRetryableHTTPStatus(httpErr.StatusCode) {
			return pkgerrors.Transient(op, err)
		}
		return pkgerrors.Fatal(op, err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return pkgerrors.Transient(op, err)
	}
	return pkgerrors.Fatal(op, err)
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

func (c *Client) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+responsesPath, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if td := ctxutil.GetTraceData(ctx); td != nil && td.RequestID != "" {
		req.Header.Set("X-Client-Request-Id", td.RequestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 2048)}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, op string, body *responsesRequest, out *responsesResponse) error {
	backoff := time.Second
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				observability.Current().ObserveLLMRequest(body.Model, op, "decode_error", time.Since(start), 0, 0)
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			observability.Current().ObserveLLMRequest(body.Model, op, statusOf(resp, nil), time.Since(start), out.Usage.InputTokens, out.Usage.OutputTokens)
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries || ctx.Err() != nil {
			observability.Current().ObserveLLMRequest(body.Model, op, statusOf(resp, err), time.Since(start), 0, 0)
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		c.sleep(sleepFor)
		backoff *= 2
	}
}

// doWithTempFallback retries once without temperature when the model
// rejects the parameter, and remembers the model.
func (c *Client) doWithTempFallback(ctx context.Context, op string, body *responsesRequest, out *responsesResponse) error {
	err := c.do(ctx, op, body, out)
	if err == nil || body.Temperature == nil || !isUnsupportedTemperature(err) {
		return err
	}
	c.noteNoTempModel(body.Model)
	body.Temperature = nil
	return c.do(ctx, op, body, out)
}

func isUnsupportedTemperature(err error) bool {
	var httpErr *httpError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(httpErr.Body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range []string{"unsupported parameter", "unknown parameter", "not supported", "does not support", "only the default", "unsupported_value"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func parseNoTempModelRules(raw string) (map[string]bool, []string) {
	m := map[string]bool{}
	var prefixes []string
	for _, part := range strings.Split(raw, ",") {
		s := strings.ToLower(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		if strings.HasSuffix(s, "*") {
			if p := strings.TrimRight(strings.TrimSuffix(s, "*"), "-_./:"); p != "" {
				prefixes = append(prefixes, p)
			}
			continue
		}
		m[s] = true
	}
	return m, prefixes
}

func (c *Client) modelIsNoTemp(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if c.noTempModels[m] {
		return true
	}
	for _, p := range c.noTempPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	c.noTempMu.RLock()
	defer c.noTempMu.RUnlock()
	return c.noTempSeen[m]
}

func (c *Client) noteNoTempModel(model string) {
	c.noTempMu.Lock()
	c.noTempSeen[strings.ToLower(strings.TrimSpace(model))] = true
	c.noTempMu.Unlock()
	c.log.Info("model rejects temperature; omitting it from now on", "model", model)
}

func statusOf(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err != nil:
		return "error"
	default:
		return "unknown"
	}
}

func parseBoolEnv(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
