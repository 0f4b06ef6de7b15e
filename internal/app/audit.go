package app

import (
	"context"

	"dailytask/internal/eventbus"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// auditor copies scheduler events into the store's audit journal.
type auditor struct {
	events <-chan eventbus.Event
	unsub  func()
	store  storage.Store
	log    logx.Logger
}

func newAuditor(bus eventbus.Bus, store storage.Store, log logx.Logger) *auditor {
	ch, unsub := bus.Subscribe(64)
	return &auditor{events: ch, unsub: unsub, store: store, log: log}
}

func (a *auditor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return nil
		case e, ok := <-a.events:
			if !ok {
				return nil
			}
			a.record(ctx, e)
		}
	}
}

// Flush records whatever is queued without waiting for more.
func (a *auditor) Flush(ctx context.Context) {
	for {
		select {
		case e, ok := <-a.events:
			if !ok {
				return
			}
			a.record(ctx, e)
		default:
			return
		}
	}
}

func (a *auditor) record(ctx context.Context, e eventbus.Event) {
	a.log.Debug("event", logx.String("type", e.Type), logx.String("run_id", e.RunID), logx.String("clock", e.Clock))
	err := a.store.AppendAudit(ctx, storage.AuditEntry{
		At:     e.Time,
		Event:  e.Type,
		RunID:  e.RunID,
		Clock:  e.Clock,
		OK:     e.OK,
		Detail: e.Detail,
	})
	if err != nil {
		a.log.Warn("audit append failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func (a *auditor) Close() { a.unsub() }
