package leave

import (
	"time"

	"github.com/google/uuid"
	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// Option configures the services in this package.
type Option func(*options)

type options struct {
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func defaultOptions() options {
	return options{
		notifier: NopNotifier{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid.NewString, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func (o options) emitter(name string) emitter {
	return emitter{notifier: o.notifier, logger: o.logger.Named(name), now: o.now, newID: o.newID}
}

// ledger builds a Ledger over s that shares the service's clock and IDs.
func (o options) ledger(s generic.Store) *generic.Ledger {
	return &generic.Ledger{Store: s, Now: o.now, NewID: o.newID}
}
