package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// RelayConfig configures the JetStream relay
type RelayConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	DuplicateWindow time.Duration
	Buffer          int
	PublishTimeout  time.Duration
}

// DefaultRelayConfig returns the relay defaults for url
func DefaultRelayConfig(url string) RelayConfig {
	return RelayConfig{
		URL:             url,
		StreamName:      "ARENA_EVENTS",
		SubjectPrefix:   "arena.events",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
		Buffer:          256,
		PublishTimeout:  5 * time.Second,
	}
}

// msgPublisher is the subset of jetstream.JetStream the relay needs
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// envelope is the JSON body written to the stream
type envelope struct {
	EventID   string      `json:"eventId"`
	EventType EventType   `json:"eventType"`
	GameID    string      `json:"gameId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Relay forwards every published event to a NATS JetStream stream under
// "<prefix>.<event type>". Publishing happens on a background goroutine; events
// are dropped when the buffer is full.
type Relay struct {
	nc     *nats.Conn
	js     msgPublisher
	config RelayConfig
	queue  chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

// NewRelay connects to NATS and makes sure the stream exists
func NewRelay(ctx context.Context, cfg RelayConfig, logger *zap.Logger) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("arena-server"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r := newRelay(js, cfg, logger)
	r.nc = nc
	return r, nil
}

func newRelay(js msgPublisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.Buffer < 1 {
		cfg.Buffer = 1
	}
	r := &Relay{
		js:     js,
		config: cfg,
		queue:  make(chan Event, cfg.Buffer),
		logger: logger,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg RelayConfig, logger *zap.Logger) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Arena game events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  cfg.DuplicateWindow,
	}

	if _, err := js.Stream(ctx, cfg.StreamName); err != nil {
		if _, err := js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		logger.Info("Created JetStream stream", zap.String("stream", cfg.StreamName))
		return nil
	}

	if _, err := js.UpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Attach subscribes the relay to every event on p
func (r *Relay) Attach(p *Publisher) {
	p.SubscribeAll(r.Handle)
}

// Handle queues event for publishing without blocking
func (r *Relay) Handle(event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- event:
	default:
		r.logger.Warn("Relay buffer full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("game_id", event.GameID))
	}
}

func (r *Relay) run() {
	defer r.wg.Done()

	for event := range r.queue {
		if err := r.publish(event); err != nil {
			r.logger.Error("Error relaying event",
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// Subject returns the subject an event type is published on
func (r *Relay) Subject(t EventType) string {
	return r.config.SubjectPrefix + "." + strings.ToLower(string(t))
}

func (r *Relay) publish(event Event) error {
	data, err := json.Marshal(envelope{
		EventID:   event.ID.String(),
		EventType: event.Type,
		GameID:    event.GameID,
		Timestamp: event.At,
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
	defer cancel()

	msg := &nats.Msg{
		Subject: r.Subject(event.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Event-ID":   []string{event.ID.String()},
		},
	}
	if event.GameID != "" {
		msg.Header.Set("Game-ID", event.GameID)
	}

	ack, err := r.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.ID.String()))
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	r.logger.Debug("Relayed event",
		zap.String("subject", msg.Subject),
		zap.Uint64("sequence", ack.Sequence))
	return nil
}

// Close drains queued events and closes the NATS connection
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	if r.nc != nil {
		r.nc.Close()
	}
}
