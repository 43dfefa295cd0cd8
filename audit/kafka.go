package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("audit queue full")
	ErrClosed    = errors.New("audit sink closed")
)

var jsonMarshal = json.Marshal

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers    []string
	Topic      string
	BufferSize int
	MaxRetries uint64
}

// Message is the JSON value written to the topic.
type Message struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actor_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	EmployeeID string         `json:"employee_id,omitempty"`
	PolicyID   string         `json:"policy_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// =============================================================================
// KAFKA SINK - Non-blocking publisher
// =============================================================================

// KafkaSink queues events on a bounded channel and publishes them from a
// background goroutine. Notify never blocks; a full queue drops the event.
type KafkaSink struct {
	writer     Writer
	events     chan generic.AuditEntry
	logger     *zap.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	s := newKafkaSink(w, cfg.BufferSize, logger)
	if cfg.MaxRetries > 0 {
		s.maxRetries = cfg.MaxRetries
	}
	s.start()
	return s
}

func newKafkaSink(w Writer, buffer int, logger *zap.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = 1000
	}
	return &KafkaSink{
		writer:     w,
		events:     make(chan generic.AuditEntry, buffer),
		logger:     logger.Named("kafka_sink"),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (s *KafkaSink) start() {
	s.wg.Add(1)
	go s.eventLoop()
}

func (s *KafkaSink) Notify(_ context.Context, e generic.AuditEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.events <- e:
		return nil
	default:
		s.logger.Warn("audit queue full, dropping event",
			zap.String("event_id", e.ID),
			zap.String("action", string(e.Action)),
		)
		return ErrQueueFull
	}
}

func (s *KafkaSink) eventLoop() {
	defer s.wg.Done()
	for e := range s.events {
		s.publish(e)
	}
}

func (s *KafkaSink) publish(e generic.AuditEntry) {
	value, err := jsonMarshal(toMessage(e))
	if err != nil {
		s.logger.Error("failed to serialize event", zap.String("event_id", e.ID), zap.Error(err))
		return
	}
	msg := kafka.Message{Key: []byte(e.RequestID), Value: value}
	if e.RequestID == "" {
		msg.Key = []byte(e.PolicyID)
	}

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.writer.WriteMessages(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("retrying publish", zap.String("event_id", e.ID), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), notify); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.Error(err),
		)
	}
}

// Close stops accepting events, publishes what is queued, then closes the
// writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.wg.Wait()
	return s.writer.Close()
}

func toMessage(e generic.AuditEntry) Message {
	return Message{
		ID:         e.ID,
		Type:       string(e.Action),
		Timestamp:  e.Timestamp,
		ActorID:    e.ActorID,
		RequestID:  string(e.RequestID),
		EmployeeID: string(e.EmployeeID),
		PolicyID:   string(e.PolicyID),
		Payload:    e.Payload,
	}
}
