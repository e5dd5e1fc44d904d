package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	httpH "github.com/yungbote/sparring-backend/internal/http/handlers"
	"github.com/yungbote/sparring-backend/internal/jobs/orchestrator"
	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	"github.com/yungbote/sparring-backend/internal/jobs/worker"
	modanalysis "github.com/yungbote/sparring-backend/internal/modules/analysis"
	"github.com/yungbote/sparring-backend/internal/realtime"
	"github.com/yungbote/sparring-backend/internal/scenarios"
	"github.com/yungbote/sparring-backend/internal/services"
	"github.com/yungbote/sparring-backend/internal/testutil"
)

type testAPI struct {
	router *gin.Engine
	store  *practice.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv(scenarios.CatalogDirEnv, "")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := testutil.Logger(t)
	reg, err := scenarios.Load(log)
	if err != nil {
		t.Fatalf("scenarios: %v", err)
	}
	store := practice.NewMemoryStore()
	hub := realtime.NewSSEHub(log)
	emit := &services.HubEmitter{Hub: hub}
	gen := testutil.NewFakeGenerator()

	rep, err := progress.NewReporter(log, 0, &services.ProgressSink{Emitter: emit})
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	eng, err := orchestrator.NewEngine(log, gen, nil, store, rep, orchestrator.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	w := worker.NewWorker(log, 2, 8)
	w.Start(ctx)

	sessions := services.NewSessionService(log, store, reg)
	prepSvc := services.NewPrepService(ctx, log, store, reg, nil, eng, w, rep)
	liveSvc := services.NewLiveService(ctx, log, store, reg, emit, nil)
	classifier, err := modanalysis.NewClassifier(log, gen, 0)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	analysisSvc := services.NewAnalysisService(log, store, reg, classifier, gen, emit, services.AnalysisConfig{})

	router := NewRouter(RouterConfig{
		Log:             log,
		HealthHandler:   httpH.NewHealthHandler(nil),
		ScenarioHandler: httpH.NewScenarioHandler(reg),
		SessionHandler:  httpH.NewSessionHandler(sessions),
		PrepHandler:     httpH.NewPrepHandler(log, prepSvc),
		LiveHandler:     httpH.NewLiveHandler(log, liveSvc, hub),
		AnalysisHandler: httpH.NewAnalysisHandler(analysisSvc),
		RealtimeHandler: httpH.NewRealtimeHandler(log, hub),
	})
	return &testAPI{router: router, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (a *testAPI) createSession(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"scenario_id": "debate",
		"inputs":      map[string]string{"topic": "Cities should ban cars", "position": "pro"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Session session.Session `json:"session"`
	}
	decode(t, rec, &out)
	return out.Session.ID.String()
}

func TestHealthAndScenarios(t *testing.T) {
	api := newTestAPI(t)

	if rec := api.do(t, http.MethodGet, "/healthcheck", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthcheck: %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz with no checks: %d", rec.Code)
	}

	rec := api.do(t, http.MethodGet, "/api/scenarios", nil)
	var list struct {
		Scenarios []struct {
			ID     string `json:"id"`
			Inputs struct {
				Fields []map[string]any `json:"fields"`
			} `json:"inputs"`
		} `json:"scenarios"`
	}
	decode(t, rec, &list)
	if len(list.Scenarios) != 3 || list.Scenarios[0].ID != "debate" {
		t.Fatalf("scenarios: %+v", list.Scenarios)
	}
	if strings.Contains(rec.Body.String(), "{{") {
		t.Fatalf("prompt templates must not be exposed")
	}

	if rec := api.do(t, http.MethodGet, "/api/scenarios/chess", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown scenario: %d", rec.Code)
	}
}

func TestSessionErrorsMapToStatus(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"scenario_id": "debate",
		"inputs":      map[string]string{"position": "sideways"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid inputs: %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &env)
	if env.Error.Code != "invalid_argument" {
		t.Fatalf("error code: %q", env.Error.Code)
	}

	if rec := api.do(t, http.MethodGet, "/api/sessions/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/api/sessions/2f1c7a60-0f3e-4b8e-9a43-7a6b1f3f9d11", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: %d", rec.Code)
	}

	id := api.createSession(t)
	if rec := api.do(t, http.MethodPost, "/api/sessions/"+id+"/analysis", nil); rec.Code != http.StatusConflict {
		t.Fatalf("analysis before live: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPrepLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	if rec := api.do(t, http.MethodPost, "/api/sessions/"+id+"/prep", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("start prep: %d %s", rec.Code, rec.Body.String())
	}
	if rec := api.do(t, http.MethodPost, "/api/sessions/"+id+"/prep", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second start: %d", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	var view struct {
		Run       prep.PipelineRun  `json:"run"`
		Artifacts *prep.ArtifactSet `json:"artifacts"`
	}
	for {
		rec := api.do(t, http.MethodGet, "/api/sessions/"+id+"/prep", nil)
		decode(t, rec, &view)
		if view.Run.Phase.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prep did not finish: %+v", view.Run)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if view.Run.Phase != prep.PhaseComplete || view.Artifacts == nil {
		t.Fatalf("prep view: %+v", view)
	}

	rec := api.do(t, http.MethodGet, "/api/sessions/"+id+"/prep/events", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "id: ") || !strings.Contains(body, "event: "+string(realtime.SSEEventPrepSnapshot)) {
		t.Fatalf("stream should open with a snapshot frame: %q", body)
	}
	if !strings.Contains(body, `"phase":"complete"`) {
		t.Fatalf("terminal snapshot missing: %q", body)
	}

	if rec := api.do(t, http.MethodDelete, "/api/sessions/"+id+"/prep", nil); rec.Code != http.StatusConflict {
		t.Fatalf("cancel finished run: %d", rec.Code)
	}
}

func TestRealtimeStreamRejectsForeignChannels(t *testing.T) {
	api := newTestAPI(t)
	for _, q := range []string{"", "?channel=user:abc", "?channel=session:nope"} {
		if rec := api.do(t, http.MethodGet, "/api/realtime/stream"+q, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("stream%s: %d", q, rec.Code)
		}
	}
}

type wsFrame struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestLiveSocketTurnTaking(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSession(t)

	srv := httptest.NewServer(api.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if f := readUntil(t, conn, "turn_granted"); f.Speaker != "counterpart" {
		t.Fatalf("counterpart should open, got %+v", f)
	}

	send := func(msg map[string]string) {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(map[string]string{"type": "turn_complete", "speaker": "user", "text": "out of turn"})
	if f := readUntil(t, conn, "error"); f.Code != "invalid_argument" {
		t.Fatalf("out-of-turn error: %+v", f)
	}

	send(map[string]string{"type": "turn_complete", "speaker": "counterpart", "text": "Cars are essential."})
	if f := readUntil(t, conn, "turn_granted"); f.Speaker != "user" {
		t.Fatalf("floor should pass to user, got %+v", f)
	}
	send(map[string]string{"type": "turn_complete", "speaker": "user", "text": "Transit carries more people."})
	readUntil(t, conn, "exchange")

	send(map[string]string{"type": "end"})
	if f := readUntil(t, conn, "ended"); f.Reason != "user" {
		t.Fatalf("ended frame: %+v", f)
	}

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%s/transcript", id), nil)
	var tr struct {
		Exchanges []json.RawMessage `json:"exchanges"`
	}
	decode(t, rec, &tr)
	if len(tr.Exchanges) != 1 {
		t.Fatalf("transcript: %s", rec.Body.String())
	}

	rec = api.do(t, http.MethodPost, "/api/sessions/"+id+"/analysis", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analysis: %d %s", rec.Code, rec.Body.String())
	}
	if rec := api.do(t, http.MethodGet, "/api/sessions/"+id+"/live", nil); rec.Code != http.StatusConflict {
		t.Fatalf("reopen ended session: %d", rec.Code)
	}
}
