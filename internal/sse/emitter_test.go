package sse

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
)

func TestEmitterRoutesByKey(t *testing.T) {
	e := NewEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	org := e.SubscribeToOrganizer(ctx, "org-1")
	ev := e.SubscribeToEvent(ctx, "event-1")
	other := e.SubscribeToEvent(ctx, "event-2")

	e.EmitCheckout("org-1", "event-1", map[string]int{"quantity": 2})
	e.EmitCheckIn("event-1", "ticket-1")

	assert.Equal(t, TypeCheckout, (<-org).Type)
	assert.Equal(t, TypeCheckout, (<-ev).Type)
	assert.Equal(t, TypeCheckIn, (<-ev).Type)

	select {
	case msg := <-other:
		t.Fatalf("unexpected message %v", msg)
	default:
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	e := NewEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.SubscribeToEvent(ctx, "event-1")
	assert.Equal(t, 1, e.GetEventClientCount("event-1"))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Zero(t, e.GetEventClientCount("event-1"))

	// Emitting after the last client left must not panic.
	e.EmitCheckIn("event-1", "x")
}

func TestStreamWritesEvents(t *testing.T) {
	ch := make(chan Message, 1)
	ch <- Message{Type: TypeCheckIn, Data: map[string]string{"status": "VALID"}}
	close(ch)

	rr := httptest.NewRecorder()
	Stream(rr, httptest.NewRequest(http.MethodGet, "/stream", nil), ch, map[string]string{"eventId": "e1"}, logger.NewNop())

	assert.Equal(t, "text/event-stream;charset=UTF-8", rr.Header().Get("Content-Type"))
	scanner := bufio.NewScanner(strings.NewReader(rr.Body.String()))
	var lines []string
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "event: connected", lines[0])
	assert.Equal(t, `data: {"eventId":"e1"}`, lines[1])
	assert.Equal(t, "event: checkin", lines[2])
	assert.Equal(t, `data: {"status":"VALID"}`, lines[3])
}

func TestStreamOutlivesServerWriteTimeout(t *testing.T) {
	ch := make(chan Message, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Stream(w, r, ch, map[string]string{"eventId": "e1"}, logger.NewNop())
	})
	srv := httptest.NewUnstartedServer(logger.RequestLogger(logger.NewNop())(metrics.Middleware(handler)))
	srv.Config.WriteTimeout = 300 * time.Millisecond
	srv.Start()
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/validate/event/e1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSuffix(line, "\n")
			switch {
			case line == "" && event != "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, "connected", event)

	time.Sleep(600 * time.Millisecond)
	ch <- Message{Type: TypeCheckIn, Data: map[string]string{"ticketId": "t1"}}

	event, data := readEvent()
	assert.Equal(t, TypeCheckIn, event)
	assert.Equal(t, `{"ticketId":"t1"}`, data)
	close(ch)
}

type brokenPipe struct {
	*httptest.ResponseRecorder
	writes int
}

func (b *brokenPipe) Write(p []byte) (int, error) {
	b.writes++
	if b.writes > 1 {
		return 0, errors.New("write: broken pipe")
	}
	return b.ResponseRecorder.Write(p)
}

func TestStreamStopsOnWriteError(t *testing.T) {
	ch := make(chan Message, 1)
	ch <- Message{Type: TypeCheckIn, Data: map[string]string{"ticketId": "t1"}}

	w := &brokenPipe{ResponseRecorder: httptest.NewRecorder()}
	done := make(chan struct{})
	go func() {
		Stream(w, httptest.NewRequest(http.MethodGet, "/stream", nil), ch, map[string]string{}, logger.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after a failed write")
	}
	assert.Equal(t, 2, w.writes)
}
