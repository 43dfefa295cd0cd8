package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/generic/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingSink struct{ err error }

func (f failingSink) Notify(context.Context, generic.AuditEntry) error { return f.err }

func TestStoreSink_PersistsEntries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sink := NewStoreSink(mem)

	require.NoError(t, sink.Notify(ctx, testEvent()))

	got, err := mem.QueryAudit(ctx, generic.AuditFilter{RequestID: "req-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mgr-1", got[0].ActorID)
}

func TestLogSink_WritesStructuredLine(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Notify(context.Background(), testEvent()))

	entries := recorded.FilterMessage("request_approved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "audit", entries[0].LoggerName)
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	// GIVEN: Three sinks, the middle one failing
	// WHEN: Notifying through the fanout
	// THEN: The last sink still receives the event and the error is reported

	ctx := context.Background()
	first, last := store.NewMemory(), store.NewMemory()
	boom := errors.New("boom")
	f := Fanout{NewStoreSink(first), failingSink{err: boom}, NewStoreSink(last)}

	err := f.Notify(ctx, testEvent())
	assert.ErrorIs(t, err, boom)

	for _, m := range []*store.Memory{first, last} {
		got, qerr := m.QueryAudit(ctx, generic.AuditFilter{})
		require.NoError(t, qerr)
		assert.Len(t, got, 1)
	}
}
