package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unitick/go-settlement.git/internal/chain"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
)

type fakeStore struct {
	items   []orders.CartItem
	itemErr error
	saved   *orders.SettlementRecord
	saveErr error
}

func (f *fakeStore) CartItemsForUser(ctx context.Context, userID string) ([]orders.CartItem, error) {
	return f.items, f.itemErr
}

func (f *fakeStore) ConfirmSettlement(ctx context.Context, rec orders.SettlementRecord) error {
	f.saved = &rec
	return f.saveErr
}

type fakeResolver struct{ acct *chain.Account }

func (f *fakeResolver) Resolve(ctx context.Context, userID, email string) (*chain.Account, error) {
	return f.acct, nil
}

type fakePreflighter struct{ err error }

func (f *fakePreflighter) PreFlight(ctx context.Context, a common.Address, total *big.Int) error {
	return f.err
}

type fakeWhitelister struct {
	err  error
	seen []common.Address
}

func (f *fakeWhitelister) EnsureWhitelisted(ctx context.Context, vendors []common.Address) error {
	f.seen = vendors
	return f.err
}

type fakeSubmitter struct {
	sub *Submission
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, acct *chain.Account, b *BuiltOrder) (*Submission, error) {
	return f.sub, f.err
}

type fakeReconciler struct {
	rec *Reconciliation
	err error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, receipt *types.Receipt, predicted *big.Int) (*Reconciliation, error) {
	return f.rec, f.err
}

func serviceFixture(t *testing.T) (*Service, *fakeStore, *fakePublisher, *fakePublisher) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := &fakeStore{items: []orders.CartItem{
		cartItem("a", walletA, 1000, 1),
		cartItem("b", walletB, 2000, 2),
	}}
	completed := &fakePublisher{}
	failed := &fakePublisher{}

	svc := &Service{
		Store:     store,
		Wallets:   &fakeResolver{acct: &chain.Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}},
		Validator: &fakePreflighter{},
		Whitelister: &fakeWhitelister{},
		Submitter: &fakeSubmitter{sub: &Submission{
			TxHash:      common.HexToHash("0xfeed"),
			Receipt:     minedReceipt(),
			PredictedID: big.NewInt(42),
			State:       orders.StateMinedSuccess,
		}},
		Reconciler: &fakeReconciler{rec: &Reconciliation{
			OrderID:   big.NewInt(42),
			TicketIDs: []*big.Int{big.NewInt(100), big.NewInt(101)},
			Source:    SourceLogs,
		}},
		Completed:     completed,
		Failed:        failed,
		ServiceName:   "settlement-test",
		TokenDecimals: 6,
		ContractAddr:  "0x9999999999999999999999999999999999999999",
		Log:           zerolog.Nop(),
	}
	return svc, store, completed, failed
}

func TestSettleHappyPath(t *testing.T) {
	svc, store, completed, failed := serviceFixture(t)

	res, err := svc.Settle(context.Background(), SettleRequest{UserID: "user-1", Email: "buyer@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "42", res.ChainOrderID)
	assert.Equal(t, "50250000", res.TotalBaseUnits)
	assert.Equal(t, []string{"100", "101"}, res.TicketIDs)
	assert.Equal(t, string(SourceLogs), res.ReconciledFrom)

	require.NotNil(t, store.saved)
	assert.Equal(t, orders.StatusConfirmed, store.saved.Order.Status)
	require.Len(t, store.saved.Bookings, 2)
	assert.Equal(t, "100", store.saved.Bookings[0].TokenID)
	assert.Equal(t, "101", store.saved.Bookings[1].TokenID)
	require.Len(t, store.saved.Items, 2)

	require.Len(t, completed.values, 1)
	assert.Empty(t, failed.values)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(completed.values[0], &env))
	payload, err := kafkax.UnwrapPayload[orders.SettlementCompletedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, payload.OrderID)
	require.Len(t, payload.Vendors, 2)
	assert.Equal(t, walletA, payload.Vendors[0].WalletAddress)
	assert.Equal(t, "10000000", payload.Vendors[0].AmountBase)
	assert.Equal(t, "40000000", payload.Vendors[1].AmountBase)
}

func TestSettlePreflightFailurePublishesStage(t *testing.T) {
	svc, store, completed, failed := serviceFixture(t)
	svc.Validator = &fakePreflighter{err: &InsufficientBalanceError{
		Account:  common.HexToAddress(walletA),
		Balance:  big.NewInt(1),
		Required: big.NewInt(100),
	}}

	_, err := svc.Settle(context.Background(), SettleRequest{UserID: "user-1", Email: "buyer@example.com"})
	require.Error(t, err)
	assert.Nil(t, store.saved)
	assert.Empty(t, completed.values)

	require.Len(t, failed.values, 1)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(failed.values[0], &env))
	assert.Equal(t, orders.EventSettlementFailed, env.EventType)
	payload, err := kafkax.UnwrapPayload[orders.SettlementFailedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, string(orders.StateValidating), payload.Stage)
	assert.Contains(t, payload.Reason, "insufficient")
}

func TestSettleSubmitFailureReportsSubmitterState(t *testing.T) {
	svc, _, _, failed := serviceFixture(t)
	svc.Submitter = &fakeSubmitter{
		sub: &Submission{State: orders.StateMinedFailed, TxHash: common.HexToHash("0xfeed")},
		err: errors.New("transaction failed with status: 0"),
	}

	_, err := svc.Settle(context.Background(), SettleRequest{UserID: "user-1", Email: "buyer@example.com"})
	require.Error(t, err)

	require.Len(t, failed.values, 1)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(failed.values[0], &env))
	payload, err := kafkax.UnwrapPayload[orders.SettlementFailedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, string(orders.StateMinedFailed), payload.Stage)
}

func TestSettleExternalWalletSkipsResolver(t *testing.T) {
	svc, store, _, _ := serviceFixture(t)
	svc.Wallets = nil // must not be touched

	res, err := svc.Settle(context.Background(), SettleRequest{
		UserID:         "user-1",
		Email:          "buyer@example.com",
		ExternalWallet: walletB,
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(walletB).Hex(), res.BuyerAddress)
	assert.Equal(t, common.HexToAddress(walletB).Hex(), store.saved.Order.BuyerAddress)
}

func TestSettleRejectsMalformedExternalWallet(t *testing.T) {
	svc, _, _, failed := serviceFixture(t)

	_, err := svc.Settle(context.Background(), SettleRequest{
		UserID:         "user-1",
		Email:          "buyer@example.com",
		ExternalWallet: "not-an-address",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid wallet address")
	assert.Len(t, failed.values, 1)
}

func TestSettleEmptyCart(t *testing.T) {
	svc, _, _, failed := serviceFixture(t)
	svc.Store = &fakeStore{}

	_, err := svc.Settle(context.Background(), SettleRequest{UserID: "user-1", Email: "buyer@example.com"})
	require.Error(t, err)
	require.Len(t, failed.values, 1)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(failed.values[0], &env))
	payload, err := kafkax.UnwrapPayload[orders.SettlementFailedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, string(orders.StateBuilding), payload.Stage)
}
