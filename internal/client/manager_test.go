// ABOUTME: Tests for the connection supervisor
// ABOUTME: Covers connect-and-dispatch, failure accounting, and deterministic teardown

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbox/askbox/internal/events"
)

// streamServer upgrades connections and pushes pre-encoded frames.
func streamServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestManager_ConnectsAndDispatches(t *testing.T) {
	frame, err := events.Encode(events.AnswerDeleted{DeletedID: "a1"})
	require.NoError(t, err)
	srv := streamServer(t, [][]byte{frame})

	bus := NewBus(nil)
	received := make(chan events.Event, 1)
	bus.Subscribe(events.KindAnswerDeleted, func(ev events.Event) {
		received <- ev
	})

	mgr := NewManager(wsURL(srv), "", bus, nil)
	defer mgr.Close()
	mgr.Start(context.Background())

	select {
	case ev := <-received:
		assert.Equal(t, "a1", ev.(events.AnswerDeleted).DeletedID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}

	assert.Equal(t, StateOpen, mgr.State().State)
	assert.Zero(t, mgr.State().Retries)
}

func TestManager_UndecodableFramesAreSkipped(t *testing.T) {
	good, err := events.Encode(events.AnswerDeleted{DeletedID: "after-garbage"})
	require.NoError(t, err)
	srv := streamServer(t, [][]byte{[]byte("garbage"), good})

	bus := NewBus(nil)
	received := make(chan events.Event, 1)
	bus.Subscribe(events.KindAnswerDeleted, func(ev events.Event) {
		received <- ev
	})

	mgr := NewManager(wsURL(srv), "", bus, nil)
	defer mgr.Close()
	mgr.Start(context.Background())

	select {
	case ev := <-received:
		assert.Equal(t, "after-garbage", ev.(events.AnswerDeleted).DeletedID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after garbage frame")
	}
}

func TestManager_DialFailureCountsAgainstBudget(t *testing.T) {
	// A server that is already gone refuses connections
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(srv)
	srv.Close()

	mgr := NewManager(url, "", NewBus(nil), nil)
	defer mgr.Close()
	mgr.Start(context.Background())

	require.Eventually(t, func() bool {
		m := mgr.State()
		return m.State == StateWaiting && m.Retries == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The next wait grows linearly
	assert.Equal(t, 7*time.Second, mgr.State().Interval())
}

func TestManager_CloseIsDeterministic(t *testing.T) {
	srv := streamServer(t, nil)
	mgr := NewManager(wsURL(srv), "", NewBus(nil), nil)
	mgr.Start(context.Background())

	require.Eventually(t, func() bool {
		return mgr.State().State == StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.Close())

	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}

	// Closing twice is fine
	require.NoError(t, mgr.Close())
}

func TestManager_ContextCancelStops(t *testing.T) {
	srv := streamServer(t, nil)
	mgr := NewManager(wsURL(srv), "", NewBus(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	require.Eventually(t, func() bool {
		return mgr.State().State == StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after context cancel")
	}
}
