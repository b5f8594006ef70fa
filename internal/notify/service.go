package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
)

type Store interface {
	Insert(ctx context.Context, n orders.Notification) error
}

// Deduper is the seen/mark pair; backed by redisx.Deduper in production.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Service turns settlement events into notification rows: one for the buyer,
// one per vendor payout. Delivery is at-least-once; row ids are derived from
// the event id, so a replay re-inserts the same ids and the ON CONFLICT
// insert drops them even when the Redis dedup is unavailable.
type Service struct {
	Store       Store
	Dedup       Deduper
	ServiceName string
	Log         zerolog.Logger
}

// HandleSettlementCompleted is wired as the consumer handler.
func (s *Service) HandleSettlementCompleted(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventSettlementCompleted {
		return nil // ignore
	}

	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		// treat as unseen; the deterministic row ids absorb the replay
		s.Log.Warn().Err(err).Str("event", env.EventID).Msg("dedup check failed")
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.SettlementCompletedPayload](env.Payload)
	if err != nil {
		return err
	}

	buyer := orders.Notification{
		ID:          notificationID(env.EventID, "buyer"),
		RecipientID: p.UserID,
		Kind:        "order_settled",
		OrderID:     p.OrderID,
		Message:     fmt.Sprintf("Your order settled on-chain in tx %s.", p.TxHash),
	}
	if err := s.Store.Insert(ctx, buyer); err != nil {
		return err
	}

	for i, share := range p.Vendors {
		n := orders.Notification{
			ID:          notificationID(env.EventID, fmt.Sprintf("vendor/%d", i)),
			RecipientID: share.VendorID,
			Kind:        "payout_received",
			OrderID:     p.OrderID,
			Message:     fmt.Sprintf("You received a payout of %s base units for %q.", share.AmountBase, share.ServiceName),
		}
		if err := s.Store.Insert(ctx, n); err != nil {
			return err
		}
	}

	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		s.Log.Warn().Err(err).Str("event", env.EventID).Msg("dedup mark failed")
	}
	s.Log.Info().Str("order", p.OrderID).Int("vendors", len(p.Vendors)).Msg("notifications written")
	return nil
}

// notificationID is stable per (event, slot) so reprocessing the same event
// regenerates identical row ids.
func notificationID(eventID, slot string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID+"/"+slot)).String()
}
