package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
)

// fakeStore drops duplicate ids the way the ON CONFLICT insert does.
type fakeStore struct {
	rows []orders.Notification
	ids  map[string]bool
}

func (f *fakeStore) Insert(ctx context.Context, n orders.Notification) error {
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	if f.ids[n.ID] {
		return nil
	}
	f.ids[n.ID] = true
	f.rows = append(f.rows, n)
	return nil
}

type fakeDeduper struct {
	seen    map[string]bool
	seenErr error
	marked  []string
}

func (f *fakeDeduper) Seen(ctx context.Context, id string) (bool, error) {
	return f.seen[id], f.seenErr
}

func (f *fakeDeduper) Mark(ctx context.Context, id string) error {
	f.marked = append(f.marked, id)
	return nil
}

func completedMessage(eventID string) kafkago.Message {
	env := orders.Envelope{
		EventID:      eventID,
		EventType:    orders.EventSettlementCompleted,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "settlement-api",
		Payload: kafkax.MustMarshal(orders.SettlementCompletedPayload{
			OrderID:      "o-1",
			UserID:       "user-1",
			BuyerAddress: "0x1111111111111111111111111111111111111111",
			TxHash:       "0xfeed",
			Vendors: []orders.VendorShare{
				{VendorID: "vendor-a", AmountBase: "10000000", ServiceName: "City Tour"},
				{VendorID: "vendor-b", AmountBase: "40000000", ServiceName: "Museum Pass"},
			},
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestHandleSettlementCompleted(t *testing.T) {
	store := &fakeStore{}
	dedup := &fakeDeduper{seen: map[string]bool{}}
	svc := &Service{Store: store, Dedup: dedup, ServiceName: "notify-test", Log: zerolog.Nop()}

	id := uuid.NewString()
	require.NoError(t, svc.HandleSettlementCompleted(context.Background(), completedMessage(id)))

	require.Len(t, store.rows, 3)
	assert.Equal(t, "user-1", store.rows[0].RecipientID)
	assert.Equal(t, "order_settled", store.rows[0].Kind)
	assert.Contains(t, store.rows[0].Message, "0xfeed")
	assert.Equal(t, "vendor-a", store.rows[1].RecipientID)
	assert.Equal(t, "payout_received", store.rows[1].Kind)
	assert.Contains(t, store.rows[1].Message, "10000000")
	assert.Contains(t, store.rows[1].Message, "City Tour")
	assert.Equal(t, "vendor-b", store.rows[2].RecipientID)

	assert.Equal(t, []string{id}, dedup.marked)
}

func TestHandleSettlementCompletedDeduplicates(t *testing.T) {
	store := &fakeStore{}
	id := uuid.NewString()
	dedup := &fakeDeduper{seen: map[string]bool{id: true}}
	svc := &Service{Store: store, Dedup: dedup, ServiceName: "notify-test", Log: zerolog.Nop()}

	require.NoError(t, svc.HandleSettlementCompleted(context.Background(), completedMessage(id)))
	assert.Empty(t, store.rows)
	assert.Empty(t, dedup.marked)
}

func TestHandleSettlementCompletedReplayWithoutDedup(t *testing.T) {
	// Redis down: Seen errors on every call, both deliveries reach the store,
	// and only the deterministic row ids keep the table duplicate-free
	store := &fakeStore{}
	dedup := &fakeDeduper{seen: map[string]bool{}, seenErr: errors.New("redis: connection refused")}
	svc := &Service{Store: store, Dedup: dedup, ServiceName: "notify-test", Log: zerolog.Nop()}

	msg := completedMessage(uuid.NewString())
	require.NoError(t, svc.HandleSettlementCompleted(context.Background(), msg))
	require.NoError(t, svc.HandleSettlementCompleted(context.Background(), msg))

	assert.Len(t, store.rows, 3)
}

func TestNotificationIDsAreStablePerEvent(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, notificationID(id, "buyer"), notificationID(id, "buyer"))
	assert.NotEqual(t, notificationID(id, "vendor/0"), notificationID(id, "vendor/1"))
	assert.NotEqual(t, notificationID(id, "buyer"), notificationID(uuid.NewString(), "buyer"))
}

func TestHandleSettlementCompletedIgnoresOtherEvents(t *testing.T) {
	store := &fakeStore{}
	dedup := &fakeDeduper{seen: map[string]bool{}}
	svc := &Service{Store: store, Dedup: dedup, ServiceName: "notify-test", Log: zerolog.Nop()}

	env := orders.Envelope{
		EventID:   uuid.NewString(),
		EventType: orders.EventSettlementFailed,
		Payload:   kafkax.MustMarshal(orders.SettlementFailedPayload{UserID: "user-1"}),
	}
	msg := kafkago.Message{Value: kafkax.MustMarshal(env)}

	require.NoError(t, svc.HandleSettlementCompleted(context.Background(), msg))
	assert.Empty(t, store.rows)
}

func TestHandleSettlementCompletedBadJSON(t *testing.T) {
	svc := &Service{Store: &fakeStore{}, Dedup: &fakeDeduper{}, Log: zerolog.Nop()}
	err := svc.HandleSettlementCompleted(context.Background(), kafkago.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
