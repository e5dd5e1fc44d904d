package realtime

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubReconnectAndOrdering(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := SessionChannel(uuid.New())

	clientA := hub.NewSSEClient()
	hub.AddChannel(clientA, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventPrepProgress, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventLiveTurn, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventPrepProgress {
		t.Fatalf("first event: got %s", got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventLiveTurn {
		t.Fatalf("second event: got %s", got.Event)
	}

	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatalf("clientA outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for clientA channel close")
	}

	clientB := hub.NewSSEClient()
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventLiveEnded})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventLiveEnded {
		t.Fatalf("reconnect event: got %s", got.Event)
	}
}

func TestSSEHubIgnoresOtherChannels(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient()
	hub.AddChannel(client, SessionChannel(uuid.New()))

	hub.Broadcast(SSEMessage{Channel: SessionChannel(uuid.New()), Event: SSEEventLiveTurn})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, "7", SSEEventPrepProgress, map[string]int{"progress": 40}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := "id: 7\nevent: PrepProgress\ndata: {\"progress\":40}\n\n"
	if buf.String() != want {
		t.Fatalf("frame: got %q want %q", buf.String(), want)
	}
	buf.Reset()
	_ = WriteFrame(&buf, "", SSEEventLiveEnded, nil)
	if strings.HasPrefix(buf.String(), "id:") {
		t.Fatalf("empty id should be omitted: %q", buf.String())
	}
}
