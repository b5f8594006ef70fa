package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/unitick/go-settlement.git/internal/chain"
)

// Source records which path recovered the order id, so a predicted-id
// fallback is loudly visible instead of silently trusted.
type Source string

const (
	SourceLogs      Source = "logs"
	SourceReceipt   Source = "receipt"
	SourcePredicted Source = "predicted"
)

type Reconciliation struct {
	OrderID   *big.Int
	TicketIDs []*big.Int
	Source    Source
}

type LogChain interface {
	FilterOrderLogs(ctx context.Context, blockHash common.Hash) ([]types.Log, error)
}

type Reconciler struct {
	Chain LogChain
	Log   zerolog.Logger
}

// Reconcile extracts the settlement's order id and minted ticket ids from a
// mined receipt. Primary path: logs scoped to the contract and the receipt's
// block hash. Fallback: decode every log in the receipt against the contract
// interface (some RPC providers filter poorly). Final fallback: the id
// predicted during simulation — unverified chain state, flagged as such.
func (r *Reconciler) Reconcile(ctx context.Context, receipt *types.Receipt, predicted *big.Int) (*Reconciliation, error) {
	logs, err := r.Chain.FilterOrderLogs(ctx, receipt.BlockHash)
	if err != nil {
		r.Log.Warn().Err(err).Str("block", receipt.BlockHash.Hex()).Msg("scoped log query failed")
	}
	if rec := collect(logs, SourceLogs); rec != nil {
		return rec, nil
	}

	fallback := make([]types.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		fallback = append(fallback, *l)
	}
	if rec := collect(fallback, SourceReceipt); rec != nil {
		r.Log.Warn().Str("tx", receipt.TxHash.Hex()).Msg("scoped log query empty, reconciled from receipt logs")
		return rec, nil
	}

	if predicted == nil {
		return nil, fmt.Errorf("no settlement events decoded for tx %s and no predicted order id", receipt.TxHash.Hex())
	}
	r.Log.Warn().
		Str("tx", receipt.TxHash.Hex()).
		Str("predicted_order", predicted.String()).
		Msg("falling back to simulated order id; value not verified against chain state")
	return &Reconciliation{OrderID: new(big.Int).Set(predicted), Source: SourcePredicted}, nil
}

func collect(logs []types.Log, src Source) *Reconciliation {
	var orderID *big.Int
	var tickets []*big.Int
	for _, l := range logs {
		switch kind, oid, tid := chain.DecodeOrderEvent(l); kind {
		case chain.EventOrderCreated:
			orderID = oid
		case chain.EventTicketMinted:
			if orderID == nil {
				orderID = oid
			}
			tickets = append(tickets, tid)
		}
	}
	if orderID == nil {
		return nil
	}
	return &Reconciliation{OrderID: orderID, TicketIDs: tickets, Source: src}
}
