package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/unitick/go-settlement.git/internal/chain"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
)

type Store interface {
	CartItemsForUser(ctx context.Context, userID string) ([]orders.CartItem, error)
	ConfirmSettlement(ctx context.Context, rec orders.SettlementRecord) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type AccountResolver interface {
	Resolve(ctx context.Context, userID, email string) (*chain.Account, error)
}

type Preflighter interface {
	PreFlight(ctx context.Context, account common.Address, total *big.Int) error
}

type VendorWhitelister interface {
	EnsureWhitelisted(ctx context.Context, vendors []common.Address) error
}

type OrderSubmitter interface {
	Submit(ctx context.Context, acct *chain.Account, b *BuiltOrder) (*Submission, error)
}

type ReceiptReconciler interface {
	Reconcile(ctx context.Context, receipt *types.Receipt, predicted *big.Int) (*Reconciliation, error)
}

type SettleRequest struct {
	UserID string
	Email  string
	// ExternalWallet, when set, routes signing to the delegated sender
	// instead of a custodial key.
	ExternalWallet string
}

type Result struct {
	OrderID        string   `json:"order_id"`
	ChainOrderID   string   `json:"chain_order_id"`
	TxHash         string   `json:"tx_hash"`
	BlockNumber    int64    `json:"block_number"`
	BuyerAddress   string   `json:"buyer_address"`
	TotalBaseUnits string   `json:"total_base_units"`
	TicketIDs      []string `json:"ticket_ids"`
	ReconciledFrom string   `json:"reconciled_from"`
}

// Service runs one settlement attempt end to end. Everything is sequential:
// the flow awaits each chain interaction in turn, and correctness leans on
// per-account nonce ordering rather than in-process locks.
type Service struct {
	Store       Store
	Wallets     AccountResolver
	Validator   Preflighter
	Whitelister VendorWhitelister
	Submitter   OrderSubmitter
	Reconciler  ReceiptReconciler

	Completed Publisher
	Failed    Publisher

	ServiceName   string
	TokenDecimals int
	ContractAddr  string
	Log           zerolog.Logger
}

func (s *Service) Settle(ctx context.Context, req SettleRequest) (*Result, error) {
	state := orders.StateBuilding

	items, err := s.Store.CartItemsForUser(ctx, req.UserID)
	if err != nil {
		return nil, s.fail(req, state, fmt.Errorf("load cart: %w", err))
	}
	built, err := BuildOrder(items, req.Email, s.TokenDecimals, time.Now().UTC())
	if err != nil {
		return nil, s.fail(req, state, err)
	}

	var acct *chain.Account
	if req.ExternalWallet != "" {
		if !common.IsHexAddress(req.ExternalWallet) {
			return nil, s.fail(req, state, fmt.Errorf("invalid wallet address %q", req.ExternalWallet))
		}
		acct = &chain.Account{Address: common.HexToAddress(req.ExternalWallet)}
	} else {
		acct, err = s.Wallets.Resolve(ctx, req.UserID, req.Email)
		if err != nil {
			return nil, s.fail(req, state, err)
		}
	}

	s.advance(&state, orders.StateValidating)
	if err := s.Validator.PreFlight(ctx, acct.Address, built.Total); err != nil {
		return nil, s.fail(req, state, err)
	}
	if err := s.Whitelister.EnsureWhitelisted(ctx, built.Params.Vendors); err != nil {
		return nil, s.fail(req, state, err)
	}

	s.advance(&state, orders.StateSimulating)
	sub, err := s.Submitter.Submit(ctx, acct, built)
	if err != nil {
		if sub != nil {
			state = sub.State
		}
		return nil, s.fail(req, state, err)
	}
	state = sub.State // MinedSuccess

	rec, err := s.Reconciler.Reconcile(ctx, sub.Receipt, sub.PredictedID)
	if err != nil {
		return nil, s.fail(req, state, fmt.Errorf("reconcile settlement %s: %w", sub.TxHash.Hex(), err))
	}

	record := s.buildRecord(req, acct, built, sub, rec)
	if err := s.Store.ConfirmSettlement(ctx, record); err != nil {
		return nil, s.fail(req, state, fmt.Errorf("persist settlement: %w", err))
	}

	res := &Result{
		OrderID:        record.Order.ID,
		ChainOrderID:   record.Order.ChainOrderID,
		TxHash:         record.Order.TxHash,
		BlockNumber:    record.Order.BlockNumber,
		BuyerAddress:   record.Order.BuyerAddress,
		TotalBaseUnits: record.Order.TotalBaseUnits,
		ReconciledFrom: record.Order.ReconciledFrom,
	}
	for _, t := range rec.TicketIDs {
		res.TicketIDs = append(res.TicketIDs, t.String())
	}
	s.publishCompleted(req, built, record, res)
	s.Log.Info().
		Str("order", res.OrderID).
		Str("chain_order", res.ChainOrderID).
		Str("tx", res.TxHash).
		Str("reconciled_from", res.ReconciledFrom).
		Msg("settlement confirmed")
	return res, nil
}

func (s *Service) buildRecord(req SettleRequest, acct *chain.Account, built *BuiltOrder, sub *Submission, rec *Reconciliation) orders.SettlementRecord {
	orderID := uuid.NewString()
	record := orders.SettlementRecord{
		Order: orders.Order{
			ID:             orderID,
			ChainOrderID:   rec.OrderID.String(),
			UserID:         req.UserID,
			BuyerAddress:   acct.Address.Hex(),
			TotalBaseUnits: built.Total.String(),
			FeeBaseUnits:   built.Fee.String(),
			TxHash:         sub.TxHash.Hex(),
			BlockNumber:    sub.Receipt.BlockNumber.Int64(),
			Status:         orders.StatusConfirmed,
			ReconciledFrom: string(rec.Source),
			Metadata:       built.Params.Metadata,
		},
	}
	for i, it := range built.Items {
		record.Items = append(record.Items, orders.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ListingID:   it.ListingID,
			Qty:         it.Quantity,
			PriceCents:  it.PriceCents,
			ServiceName: it.ServiceName,
		})
		b := orders.Booking{
			ID:              uuid.NewString(),
			OrderID:         orderID,
			ListingID:       it.ListingID,
			UserID:          it.UserID,
			VendorID:        it.VendorID,
			ContractAddress: s.ContractAddr,
			BookingDate:     it.BookingDate,
			GiftEmail:       it.GiftEmail,
			GiftName:        it.GiftName,
		}
		// one ticket per line item, in emission order
		if i < len(rec.TicketIDs) {
			b.TokenID = rec.TicketIDs[i].String()
		}
		record.Bookings = append(record.Bookings, b)
	}
	return record
}

func (s *Service) publishCompleted(req SettleRequest, built *BuiltOrder, record orders.SettlementRecord, res *Result) {
	shares := make([]orders.VendorShare, 0, len(built.Items))
	for i, it := range built.Items {
		shares = append(shares, orders.VendorShare{
			VendorID:      it.VendorID,
			WalletAddress: it.VendorWallet,
			AmountBase:    built.Params.Amounts[i].String(),
			ServiceName:   it.ServiceName,
		})
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventSettlementCompleted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: res.OrderID,
		Payload: kafkax.MustMarshal(orders.SettlementCompletedPayload{
			OrderID:        res.OrderID,
			ChainOrderID:   res.ChainOrderID,
			UserID:         req.UserID,
			BuyerAddress:   res.BuyerAddress,
			TxHash:         res.TxHash,
			BlockNumber:    res.BlockNumber,
			TotalBaseUnits: res.TotalBaseUnits,
			TicketIDs:      res.TicketIDs,
			Vendors:        shares,
			ReconciledFrom: res.ReconciledFrom,
		}),
	}
	s.Completed.Publish(orders.PartitionKey(res.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventSettlementCompleted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// fail publishes the failure event and hands the error back unchanged; every
// failure is propagated, nothing is retried here.
func (s *Service) fail(req SettleRequest, state orders.SettlementState, err error) error {
	ev := orders.Envelope{
		EventID:      uuid.NewString(),
		EventType:    orders.EventSettlementFailed,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     s.ServiceName,
		Payload: kafkax.MustMarshal(orders.SettlementFailedPayload{
			UserID: req.UserID,
			Stage:  string(state),
			Reason: err.Error(),
		}),
	}
	s.Failed.Publish(orders.PartitionKey(req.UserID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventSettlementFailed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	s.Log.Warn().Str("user", req.UserID).Str("stage", string(state)).Err(err).Msg("settlement failed")
	return err
}

func (s *Service) advance(state *orders.SettlementState, to orders.SettlementState) {
	if !orders.CanTransition(*state, to) {
		s.Log.Error().Str("from", string(*state)).Str("to", string(to)).Msg("invalid settlement state transition")
	}
	*state = to
}
