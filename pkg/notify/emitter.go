package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/logger"
)

// Emitter turns plan transitions into user-facing notifications. It plugs
// into the reconciler as its TransitionNotifier: the reconciler calls it at
// most once per applied state change, and everything in here is best-effort;
// storage or delivery failures are logged and swallowed because the
// subscription state has already committed.
type Emitter struct {
	storage   Storage
	deliverer Deliverer
	log       *slog.Logger
}

func NewEmitter(storage Storage, deliverer Deliverer, log *slog.Logger) *Emitter {
	if storage == nil {
		panic("notify: emitter requires storage")
	}
	if deliverer == nil {
		deliverer = NoOpDeliverer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{storage: storage, deliverer: deliverer, log: log}
}

var _ billing.TransitionNotifier = (*Emitter)(nil)

// NotifyPlanTransition stores and delivers one notification for the
// transition.
func (e *Emitter) NotifyPlanTransition(ctx context.Context, userID uuid.UUID, tr billing.Transition, from, to billing.Plan) {
	n := Notification{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	switch tr {
	case billing.TransitionUpgrade:
		n.Type = TypeSuccess
		n.Title = "Plan upgraded"
		n.Message = fmt.Sprintf("Your plan changed from %s to %s. Your new scan limits are active now.", planLabel(from), planLabel(to))
	case billing.TransitionDowngrade:
		n.Type = TypeInfo
		n.Title = "Plan changed"
		n.Message = fmt.Sprintf("Your plan changed from %s to %s. Usage already recorded this month still counts toward the new limit.", planLabel(from), planLabel(to))
	case billing.TransitionCancellation:
		n.Type = TypeWarning
		n.Title = "Subscription canceled"
		n.Message = fmt.Sprintf("Your %s subscription has ended. Your account is on the %s plan.", planLabel(from), planLabel(to))
	default:
		n.Type = TypeInfo
		n.Title = "Subscription renewed"
		n.Message = fmt.Sprintf("Your %s subscription was renewed.", planLabel(to))
	}

	if err := e.storage.Create(ctx, n); err != nil {
		e.log.WarnContext(ctx, "failed to store plan transition notification",
			logger.UserID(userID),
			slog.String("transition", string(tr)),
			logger.Error(err),
		)
		return
	}

	if err := e.deliverer.Deliver(ctx, n); err != nil {
		e.log.WarnContext(ctx, "notification stored but delivery failed",
			logger.UserID(userID),
			slog.String("notification_id", n.ID.String()),
			logger.Error(err),
		)
	}
}

func planLabel(p billing.Plan) string {
	switch p {
	case billing.PlanFree:
		return "Free"
	case billing.PlanPro:
		return "Pro"
	case billing.PlanEnterprise:
		return "Enterprise"
	default:
		return string(p)
	}
}
