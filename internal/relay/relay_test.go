package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/flux-aggregator/internal/model"
)

func TestRelayDeliversBatchedEvents(t *testing.T) {
	var mu sync.Mutex
	var received []model.Event
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []model.Event `json:"events"`
			Count  int           `json:"count"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		received = append(received, payload.Events...)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{
		URL:           srv.URL,
		APIKey:        "secret",
		BatchSize:     100,
		FlushInterval: time.Hour, // flush only via Stop
	})

	ev := model.NewEvent(model.EventAnswerUpdated, time.Now())
	ev.Round = 7
	r.Publish([]model.Event{ev})
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, model.RoundID(7), received[0].Round)
	require.Equal(t, "Bearer secret", auth)
}

func TestRelayFlushesFullBatchImmediately(t *testing.T) {
	delivered := make(chan int, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Count int `json:"count"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		delivered <- payload.Count
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(Config{URL: srv.URL, BatchSize: 2, FlushInterval: time.Hour})
	defer r.Stop()

	events := []model.Event{
		model.NewEvent(model.EventSubmissionReceived, time.Now()),
		model.NewEvent(model.EventSubmissionReceived, time.Now()),
	}
	r.Publish(events)

	select {
	case count := <-delivered:
		require.Equal(t, 2, count)
	case <-time.After(5 * time.Second):
		t.Fatal("full batch was not flushed")
	}
}

func TestRelayDropsWithoutURL(t *testing.T) {
	r := New(Config{})
	r.Publish([]model.Event{model.NewEvent(model.EventNewRound, time.Now())})
	r.Stop()
}
