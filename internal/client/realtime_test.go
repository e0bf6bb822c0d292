package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

func TestNewRealtimeSubscriberRequiresURLAndHandler(t *testing.T) {
	if _, err := NewRealtimeSubscriber(RealtimeOptions{}, func(moodtrace.Event) {}); err == nil {
		t.Fatalf("expected an error for a missing URL")
	}
	if _, err := NewRealtimeSubscriber(RealtimeOptions{URL: "ws://example"}, nil); err == nil {
		t.Fatalf("expected an error for a missing handler")
	}
}

func TestRealtimeSubscriberDeliversEvents(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		payload, _ := json.Marshal(moodtrace.Event{
			Type:      moodtrace.EventCreated,
			Entry:     &moodtrace.Entry{ID: "mood_rt", Category: moodtrace.CategoryHappy, Level: 4, Timestamp: 100},
			Timestamp: 100,
		})
		if err := conn.Write(r.Context(), websocket.MessageText, payload); err != nil {
			t.Errorf("write: %v", err)
			return
		}
		// Malformed frames are dropped, not fatal.
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("{"))
		payload, _ = json.Marshal(moodtrace.Event{
			Type:    moodtrace.EventDeleted,
			EntryID: "mood_rt",
		})
		if err := conn.Write(r.Context(), websocket.MessageText, payload); err != nil {
			t.Errorf("write: %v", err)
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	events := make(chan moodtrace.Event, 4)
	subscriber, err := NewRealtimeSubscriber(RealtimeOptions{
		URL:   "ws" + strings.TrimPrefix(server.URL, "http"),
		Token: "secret",
	}, func(e moodtrace.Event) { events <- e })
	if err != nil {
		t.Fatalf("NewRealtimeSubscriber: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		subscriber.Run(ctx)
		close(done)
	}()

	waitEvent := func() moodtrace.Event {
		select {
		case e := <-events:
			return e
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for a realtime event")
			return moodtrace.Event{}
		}
	}

	first := waitEvent()
	if first.Type != moodtrace.EventCreated || first.Entry == nil || first.Entry.ID != "mood_rt" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := waitEvent()
	if second.Type != moodtrace.EventDeleted || second.EntryID != "mood_rt" {
		t.Fatalf("unexpected second event: %+v", second)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth on the dial, got %q", gotAuth)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}
