package leave

import (
	"context"
	"time"

	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// Notifier receives workflow events after they are committed. Delivery is
// best effort: services log a failed Notify and carry on.
type Notifier interface {
	Notify(ctx context.Context, event generic.AuditEntry) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, generic.AuditEntry) error { return nil }

// emitter stamps and delivers events for the services in this package.
type emitter struct {
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func (e emitter) emit(ctx context.Context, event generic.AuditEntry) {
	if event.ID == "" {
		event.ID = e.newID()
	}
	if event.ActorID == "" {
		event.ActorID = ActorFrom(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("notification failed",
			zap.String("action", string(event.Action)),
			zap.String("request_id", string(event.RequestID)),
			zap.Error(err),
		)
	}
}

type actorKey struct{}

// ContextWithActor records who is acting, for events whose operation has no
// explicit actor argument (policy changes).
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
