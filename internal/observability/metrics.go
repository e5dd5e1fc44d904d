package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	apiReqError  *Counter
	llmRequests  *CounterVec
	llmLatency   *HistogramVec
	llmTokens    *CounterVec
	prepTasks    *CounterVec
	prepTaskTime *HistogramVec
	prepRuns     *CounterVec
	prepRunTime  *HistogramVec
	liveSessions *Gauge
	liveTurns    *CounterVec
	analyses     *CounterVec
	lastOverall  *GaugeVec
	classifyMemo *CounterVec
	redisUp      *Gauge
	redisPing    *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Current returns the process metrics, or nil when disabled. Every method
// is safe on a nil receiver.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	if v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 15 * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("sp_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"sp_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("sp_api_inflight_requests", "In-flight API requests."),
		apiReqError: NewCounter("sp_api_requests_error_total", "Total API requests with 5xx status."),
		llmRequests: NewCounterVec("sp_llm_requests_total", "LLM requests by model/op/status.", []string{"model", "op", "status"}),
		llmLatency: NewHistogramVec(
			"sp_llm_request_duration_seconds",
			"LLM request latency in seconds by model/op/status.",
			[]string{"model", "op", "status"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		llmTokens: NewCounterVec("sp_llm_tokens_total", "LLM tokens by model/direction.", []string{"model", "direction"}),
		prepTasks: NewCounterVec("sp_prep_tasks_total", "Prep generation task outcomes by scenario/category/status.", []string{"scenario", "category", "status"}),
		prepTaskTime: NewHistogramVec(
			"sp_prep_task_duration_seconds",
			"Prep generation task duration including retries.",
			[]string{"scenario", "category", "status"},
			[]float64{1, 2, 5, 10, 30, 60, 120, 300},
		),
		prepRuns: NewCounterVec("sp_prep_runs_total", "Prep pipeline runs by scenario/phase.", []string{"scenario", "phase"}),
		prepRunTime: NewHistogramVec(
			"sp_prep_run_duration_seconds",
			"Prep pipeline run duration by scenario/phase.",
			[]string{"scenario", "phase"},
			[]float64{5, 10, 30, 60, 120, 300, 600, 1800},
		),
		liveSessions: NewGauge("sp_live_sessions", "Live sessions currently running."),
		liveTurns:    NewCounterVec("sp_live_turn_events_total", "Live turn events by kind.", []string{"kind"}),
		analyses:     NewCounterVec("sp_analysis_total", "Analysis requests by scenario/outcome.", []string{"scenario", "outcome"}),
		lastOverall:  NewGaugeVec("sp_analysis_last_overall", "Overall score of the most recent analysis by scenario.", []string{"scenario"}),
		classifyMemo: NewCounterVec("sp_classifier_memo_total", "Classifier memo lookups by result.", []string{"result"}),
		redisUp:      NewGauge("sp_redis_up", "Redis ping success (1) or failure (0)."),
		redisPing:    NewGauge("sp_redis_ping_seconds", "Redis ping latency in seconds."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqError,
		m.llmRequests, m.llmLatency, m.llmTokens,
		m.prepTasks, m.prepTaskTime, m.prepRuns, m.prepRunTime,
		m.liveSessions, m.liveTurns, m.analyses, m.lastOverall, m.classifyMemo,
		m.redisUp, m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveLLMRequest(model, op, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	op = orUnknown(op)
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.llmRequests.Inc(model, op, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, op, status)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
}

func (m *Metrics) ObservePrepTask(scenario, category, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.prepTasks.Inc(orUnknown(scenario), orUnknown(category), orUnknown(status))
	m.prepTaskTime.Observe(dur.Seconds(), orUnknown(scenario), orUnknown(category), orUnknown(status))
}

func (m *Metrics) ObservePrepRun(scenario, phase string, dur time.Duration) {
	if m == nil {
		return
	}
	m.prepRuns.Inc(orUnknown(scenario), orUnknown(phase))
	m.prepRunTime.Observe(dur.Seconds(), orUnknown(scenario), orUnknown(phase))
}

func (m *Metrics) LiveSessionStarted() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) LiveSessionEnded() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

func (m *Metrics) IncLiveTurn(kind string) {
	if m == nil {
		return
	}
	m.liveTurns.Inc(orUnknown(kind))
}

func (m *Metrics) IncAnalysis(scenario, outcome string) {
	if m == nil {
		return
	}
	m.analyses.Inc(orUnknown(scenario), orUnknown(outcome))
}

func (m *Metrics) SetLastOverall(scenario string, overall float64) {
	if m == nil {
		return
	}
	m.lastOverall.Set(overall, orUnknown(scenario))
}

func (m *Metrics) IncClassifierMemo(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.classifyMemo.Inc("hit")
		return
	}
	m.classifyMemo.Inc("miss")
}

// StartRedisCollector pings rdb on the scrape interval until ctx ends.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}
