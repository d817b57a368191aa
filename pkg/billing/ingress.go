package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// IngestResult reports how ingress disposed of a delivery.
type IngestResult struct {
	// Duplicate is set when the event id was already processed; the delivery
	// was accepted without re-running any side effects.
	Duplicate bool
	EventType string
}

// Ingress authenticates and durably logs every inbound provider event before
// any processing. Ordering guarantee: the WebhookLog row is written before
// dispatch begins and before the caller sees acceptance, so a crash between
// logging and handling leaves a replayable unprocessed row behind.
type Ingress struct {
	provider   Provider
	logs       WebhookLogStore
	dispatcher *Dispatcher
	log        *slog.Logger
}

func NewIngress(provider Provider, logs WebhookLogStore, dispatcher *Dispatcher, log *slog.Logger) *Ingress {
	if provider == nil || logs == nil || dispatcher == nil {
		panic("billing: ingress requires provider, log store, and dispatcher")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{provider: provider, logs: logs, dispatcher: dispatcher, log: log}
}

// Ingest verifies, deduplicates, durably logs, and dispatches one delivery.
//
// Error contract for the HTTP layer:
//   - ErrInvalidSignature: reject (4xx), nothing persisted;
//   - nil with Duplicate=true: accept, nothing re-run;
//   - nil: accept, event applied (or terminally disposed of, e.g. stale or
//     unresolvable user);
//   - any other error: fail (5xx) so the provider's retry re-delivers.
func (i *Ingress) Ingest(ctx context.Context, payload []byte, signature string) (IngestResult, error) {
	ev, err := i.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return IngestResult{}, err
	}

	// Dedupe before dispatch: an already-processed event id is accepted
	// without re-running side effects. Audit logging alone is not enough to
	// make redeliveries safe.
	existing, err := i.logs.Get(ctx, i.provider.Name(), ev.ID)
	if err != nil && !errors.Is(err, ErrWebhookLogNotFound) {
		return IngestResult{}, err
	}
	if existing != nil && existing.Processed {
		if derr := i.logs.RecordDuplicateDelivery(ctx, existing.ID); derr != nil {
			i.log.WarnContext(ctx, "failed to record duplicate delivery", logger.EventID(ev.ID), logger.Error(derr))
		}
		i.log.InfoContext(ctx, "duplicate webhook delivery accepted",
			logger.EventID(ev.ID),
			slog.String("event_type", ev.ProviderEvent),
		)
		return IngestResult{Duplicate: true, EventType: ev.ProviderEvent}, nil
	}

	logID := int64(0)
	if existing != nil {
		// Unprocessed row from an earlier delivery that failed after logging;
		// this delivery replays it.
		logID = existing.ID
		if derr := i.logs.RecordDuplicateDelivery(ctx, existing.ID); derr != nil {
			i.log.WarnContext(ctx, "failed to record redelivery", logger.EventID(ev.ID), logger.Error(derr))
		}
	} else {
		row := &WebhookLog{
			Provider:  i.provider.Name(),
			EventID:   ev.ID,
			EventType: ev.ProviderEvent,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}
		if err := i.logs.Insert(ctx, row); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				// A concurrent delivery of the same event won the insert race
				// and is processing it; accept this one.
				return IngestResult{Duplicate: true, EventType: ev.ProviderEvent}, nil
			}
			// Nothing durable yet; failing here makes the provider retry.
			return IngestResult{}, err
		}
		logID = row.ID
	}

	if err := i.dispatcher.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Re-delivery cannot conjure the user; accept and keep the note.
			i.log.WarnContext(ctx, "webhook references unresolvable user",
				logger.EventID(ev.ID),
				slog.String("event_type", ev.ProviderEvent),
				logger.Error(err),
			)
			if merr := i.logs.MarkProcessed(ctx, logID, err.Error()); merr != nil {
				i.log.WarnContext(ctx, "failed to mark webhook processed", logger.EventID(ev.ID), logger.Error(merr))
			}
			return IngestResult{EventType: ev.ProviderEvent}, nil
		}

		// Leave the row unprocessed with the failure recorded; the non-2xx
		// response triggers the provider's re-delivery.
		if rerr := i.logs.RecordError(ctx, logID, err.Error()); rerr != nil {
			i.log.WarnContext(ctx, "failed to record webhook error", logger.EventID(ev.ID), logger.Error(rerr))
		}
		return IngestResult{}, err
	}

	if err := i.logs.MarkProcessed(ctx, logID, ""); err != nil {
		// The event is applied; a redelivery will no-op in the reconciler.
		i.log.WarnContext(ctx, "failed to mark webhook processed", logger.EventID(ev.ID), logger.Error(err))
	}

	return IngestResult{EventType: ev.ProviderEvent}, nil
}
