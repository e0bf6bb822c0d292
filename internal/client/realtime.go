package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

type RealtimeOptions struct {
	// URL is the websocket endpoint, e.g. ws://host/v1/realtime.
	URL            string
	Token          string
	Logger         *zap.Logger
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
}

// RealtimeSubscriber reads server events from a websocket and hands each one
// to a handler, typically the coordinator's dispatcher. It reconnects with
// backoff until the context is cancelled.
type RealtimeSubscriber struct {
	url            string
	token          string
	handler        func(moodtrace.Event)
	logger         *zap.Logger
	reconnectDelay time.Duration
	maxDelay       time.Duration
}

func NewRealtimeSubscriber(opts RealtimeOptions, handler func(moodtrace.Event)) (*RealtimeSubscriber, error) {
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		return nil, moodtrace.ErrInvalidInput
	}
	if handler == nil {
		return nil, moodtrace.ErrInvalidInput
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RealtimeSubscriber{
		url:            rawURL,
		token:          strings.TrimSpace(opts.Token),
		handler:        handler,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		maxDelay:       maxDelay,
	}, nil
}

// Run blocks until ctx is cancelled, reconnecting on every failure.
func (r *RealtimeSubscriber) Run(ctx context.Context) {
	delay := r.reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("realtime connection lost; reconnecting",
			zap.String("url", r.url),
			zap.Duration("delay", delay),
			zap.Error(err))
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return
		}
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}

func (r *RealtimeSubscriber) readLoop(ctx context.Context) error {
	dialOpts := &websocket.DialOptions{}
	if r.token != "" {
		dialOpts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + r.token},
		}
	}
	conn, _, err := websocket.Dial(ctx, r.url, dialOpts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	r.logger.Info("realtime connected", zap.String("url", r.url))

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var event moodtrace.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			r.logger.Warn("dropping malformed realtime event", zap.Error(err))
			continue
		}
		r.handler(event)
	}
}
