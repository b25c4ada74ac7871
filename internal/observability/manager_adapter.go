package observability

import (
	"context"

	"github.com/google/uuid"
)

// ManagerAdapter implements transaction.Observer on top of a Provider.
type ManagerAdapter struct {
	Provider Provider
	Ctx      context.Context
}

func (a *ManagerAdapter) ctx() context.Context {
	if a.Ctx != nil {
		return a.Ctx
	}
	return context.Background()
}

func (a *ManagerAdapter) QueueMerged(turnID int64) {
	if a.Provider == nil {
		return
	}
	a.Provider.Debug(a.ctx(), "queue merged", Int64(AttrTurnID, turnID))
}

func (a *ManagerAdapter) AsyncOverflow() {
	if a.Provider == nil {
		return
	}
	a.Provider.Warn(a.ctx(), "async transaction queue overflow")
}

func (a *ManagerAdapter) AsyncDispatched(id uuid.UUID, turnID int64) {
	if a.Provider == nil {
		return
	}
	a.Provider.Debug(a.ctx(), "async transaction dispatched",
		String("reactor.correlation_id", id.String()),
		Int64(AttrTurnID, turnID),
	)
}
