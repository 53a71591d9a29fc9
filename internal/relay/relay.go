// Package relay delivers the engine's domain events to an external
// webhook, replacing on-chain event emission for off-chain indexers.
// Events are batched and posted with retrying HTTP; delivery is
// best-effort and never blocks the submission path.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/flux-aggregator/internal/model"
)

// Config holds webhook relay settings.
type Config struct {
	URL           string
	APIKey        string
	BatchSize     int
	FlushInterval time.Duration
}

// Relay batches domain events and posts them to the configured webhook.
type Relay struct {
	config Config
	client *retryablehttp.Client

	mu    sync.Mutex
	batch []model.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a relay and starts its background flusher.
func New(config Config) *Relay {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.Logger = nil

	r := &Relay{
		config: config,
		client: client,
		batch:  make([]model.Event, 0, config.BatchSize),
		done:   make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go r.loop()
	return r
}

// Publish queues events for delivery. A full batch flushes immediately.
func (r *Relay) Publish(events []model.Event) {
	if len(events) == 0 || r.config.URL == "" {
		return
	}
	r.mu.Lock()
	r.batch = append(r.batch, events...)
	full := len(r.batch) >= r.config.BatchSize
	r.mu.Unlock()

	if full {
		go r.flush()
	}
}

// Stop flushes any pending events and stops the background flusher.
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.flush()
}

func (r *Relay) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) flush() {
	r.mu.Lock()
	if len(r.batch) == 0 {
		r.mu.Unlock()
		return
	}
	events := r.batch
	r.batch = make([]model.Event, 0, r.config.BatchSize)
	r.mu.Unlock()

	if err := r.post(events); err != nil {
		logrus.Errorf("Failed to relay %d events: %v", len(events), err)
		return
	}
	logrus.Debugf("Relayed %d events", len(events))
}

func (r *Relay) post(events []model.Event) error {
	payload := struct {
		Events     []model.Event `json:"events"`
		ExportTime string        `json:"export_time"`
		Count      int           `json:"count"`
	}{
		Events:     events,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(events),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, r.config.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
