package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/http/response"
	modlive "github.com/yungbote/sparring-backend/internal/modules/live"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
	"github.com/yungbote/sparring-backend/internal/services"
)

const (
	liveWSWriteWait = 10 * time.Second
	liveWSPongWait  = 60 * time.Second
	liveWSPingEvery = (liveWSPongWait * 9) / 10
	liveWSReadLimit = 64 << 10
)

// Inbound message types.
const (
	liveInTurnComplete = "turn_complete"
	liveInInterrupt    = "interrupt"
	liveInOverlap      = "overlap"
	liveInEnd          = "end"
)

// Outbound message types.
const (
	liveOutTurnGranted     = "turn_granted"
	liveOutInterruptDenied = "interrupt_denied"
	liveOutOverlapResolved = "overlap_resolved"
	liveOutExchange        = "exchange"
	liveOutEnded           = "ended"
	liveOutError           = "error"
)

var liveWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type liveWSInbound struct {
	Type    string       `json:"type"`
	Speaker live.Speaker `json:"speaker,omitempty"`
	By      live.Speaker `json:"by,omitempty"`
	Text    string       `json:"text,omitempty"`
	Partial string       `json:"partial,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

type liveWSOutbound struct {
	Type      string         `json:"type"`
	SessionID uuid.UUID      `json:"session_id"`
	Speaker   live.Speaker   `json:"speaker,omitempty"`
	Holder    live.Speaker   `json:"holder,omitempty"`
	Yielded   live.Speaker   `json:"yielded,omitempty"`
	Exchange  *live.Exchange `json:"exchange,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Exchanges int            `json:"exchanges,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type LiveHandler struct {
	log  *logger.Logger
	live services.LiveService
	hub  *realtime.SSEHub
}

func NewLiveHandler(log *logger.Logger, live services.LiveService, hub *realtime.SSEHub) *LiveHandler {
	return &LiveHandler{
		log:  log.With("handler", "LiveHandler"),
		live: live,
		hub:  hub,
	}
}

// GET /api/sessions/:id/assistant
func (h *LiveHandler) GetAssistant(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	cfg, err := h.live.Assistant(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assistant": cfg})
}

// GET /api/sessions/:id/live
//
// Only the instance holding the session's live claim runs its turn runtime;
// connecting through another instance answers 409. Turn events reach the
// socket through the hub's session channel. Command replies that change
// nothing (denied interrupts, errors) go only to the sender.
func (h *LiveHandler) Connect(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, realtime.SessionChannel(id))
	ls, err := h.live.Open(c.Request.Context(), id)
	if err != nil {
		h.hub.CloseClient(client)
		response.Fail(c, err)
		return
	}

	conn, err := liveWSUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.CloseClient(client)
		return
	}
	defer conn.Close()
	defer h.hub.CloseClient(client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := h.log.With("session_id", id, "client_id", client.ID)

	conn.SetReadLimit(liveWSReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(liveWSPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveWSPongWait))
	})

	writeCh := make(chan liveWSOutbound, 32)
	writerDone := make(chan struct{})
	go h.writeLoop(ctx, cancel, conn, client, id, writeCh, writerDone)

	for {
		var in liveWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Debug("live socket read ended", "error", err)
			}
			cancel()
			<-writerDone
			return
		}
		if out, reply := h.dispatch(ctx, ls, id, in); reply {
			pushLiveWS(writeCh, out)
		}
	}
}

// dispatch applies one inbound command. It returns a direct reply when the
// sender needs one beyond the broadcast turn events.
func (h *LiveHandler) dispatch(ctx context.Context, ls *modlive.Session, id uuid.UUID, in liveWSInbound) (liveWSOutbound, bool) {
	var (
		out modlive.Outcome
		err error
	)
	switch strings.ToLower(strings.TrimSpace(in.Type)) {
	case liveInTurnComplete:
		out, err = ls.OnTurnComplete(ctx, in.Speaker, in.Text)
	case liveInInterrupt:
		out, err = ls.RequestInterrupt(ctx, in.By, in.Partial)
		if err == nil && out.Denied {
			return liveWSOutbound{Type: liveOutInterruptDenied, SessionID: id, Speaker: in.By, Holder: out.Holder}, true
		}
	case liveInOverlap:
		out, err = ls.ResolveOverlap(ctx, in.Partial)
		if err == nil && out.Conflict != nil {
			return liveWSOutbound{
				Type:      liveOutOverlapResolved,
				SessionID: id,
				Holder:    live.Speaker(out.Conflict.Holder),
				Yielded:   live.Speaker(out.Conflict.Yielded),
			}, true
		}
	case liveInEnd:
		_, err = ls.End(ctx, in.Reason)
	default:
		return liveWSOutbound{Type: liveOutError, SessionID: id, Code: "invalid_argument", Message: "unsupported type: " + in.Type}, true
	}
	if err != nil {
		_, code := response.Classify(err)
		return liveWSOutbound{Type: liveOutError, SessionID: id, Code: code, Message: err.Error()}, true
	}
	return liveWSOutbound{}, false
}

// writeLoop owns all writes to conn. It closes the socket once the session
// has ended and the final frame is out.
func (h *LiveHandler) writeLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	client *realtime.SSEClient,
	id uuid.UUID,
	writeCh <-chan liveWSOutbound,
	done chan<- struct{},
) {
	defer close(done)
	ticker := time.NewTicker(liveWSPingEvery)
	defer ticker.Stop()

	write := func(out liveWSOutbound) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(liveWSWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(out) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-writeCh:
			if !write(out) {
				cancel()
				return
			}
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			out, ok := liveFrame(id, msg)
			if !ok {
				continue
			}
			if !write(out) {
				cancel()
				return
			}
			if out.Type == liveOutEnded {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, out.Reason),
					time.Now().Add(liveWSWriteWait))
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(liveWSWriteWait)); err != nil {
				cancel()
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		}
	}
}

// liveFrame converts a session channel event into a socket frame. Payloads
// may arrive as typed values (local hub) or decoded JSON (redis bus), so
// they are re-decoded through JSON.
func liveFrame(id uuid.UUID, msg realtime.SSEMessage) (liveWSOutbound, bool) {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return liveWSOutbound{}, false
	}
	switch msg.Event {
	case realtime.SSEEventLiveTurn:
		var ev services.TurnEvent
		if json.Unmarshal(raw, &ev) != nil {
			return liveWSOutbound{}, false
		}
		return liveWSOutbound{Type: liveOutTurnGranted, SessionID: id, Speaker: ev.Speaker}, true
	case realtime.SSEEventLiveExchange:
		var ev services.ExchangeEvent
		if json.Unmarshal(raw, &ev) != nil {
			return liveWSOutbound{}, false
		}
		return liveWSOutbound{Type: liveOutExchange, SessionID: id, Exchange: &ev.Exchange}, true
	case realtime.SSEEventLiveEnded:
		var ev services.EndedEvent
		if json.Unmarshal(raw, &ev) != nil {
			return liveWSOutbound{}, false
		}
		return liveWSOutbound{Type: liveOutEnded, SessionID: id, Reason: ev.Reason, Exchanges: ev.Exchanges}, true
	default:
		return liveWSOutbound{}, false
	}
}

// pushLiveWS drops the oldest queued frame rather than block the reader.
func pushLiveWS(writeCh chan liveWSOutbound, out liveWSOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
