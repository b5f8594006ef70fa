package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	kafkax "github.com/unitick/go-settlement.git/internal/kafka"
	"github.com/unitick/go-settlement.git/internal/orders"
)

// RPCCaller is satisfied by *rpc.Client. The verification path talks raw
// JSON-RPC on purpose: it must see exactly what the node reports for a tx
// hash handed in from outside, without the higher-level client in between.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type VerifyStore interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	MarkOrderConfirmed(ctx context.Context, orderID, txHash, buyer string, blockNumber int64) error
}

type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

type rpcReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Big    `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	TxHash      common.Hash    `json:"transactionHash"`
}

type VerifyResult struct {
	Confirmed    bool   `json:"confirmed"`
	Idempotent   bool   `json:"idempotent"`
	TxHash       string `json:"tx_hash"`
	BlockNumber  int64  `json:"block_number"`
	BuyerAddress string `json:"buyer_address"`
}

// Verifier confirms that a settlement tx reported by a client actually mined
// against the settlement contract, then flips the order row.
type Verifier struct {
	RPC         RPCCaller
	Store       VerifyStore
	Notify      Publisher
	Contract    common.Address
	ServiceName string
	Log         zerolog.Logger
}

// VerifyPayment is idempotent: re-invoking with a tx hash for an order that
// is already CONFIRMED skips chain and database mutation but still publishes
// the notification event.
func (v *Verifier) VerifyPayment(ctx context.Context, orderID, txHash string) (*VerifyResult, error) {
	ord, err := v.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if ord.Status == orders.StatusConfirmed {
		res := &VerifyResult{
			Confirmed:    true,
			Idempotent:   true,
			TxHash:       ord.TxHash,
			BlockNumber:  ord.BlockNumber,
			BuyerAddress: ord.BuyerAddress,
		}
		v.publish(ord.UserID, orderID, res)
		return res, nil
	}

	hash := common.HexToHash(txHash)

	var tx *rpcTransaction
	if err := v.RPC.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash: %w", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s not found", txHash)
	}
	if tx.To == nil || *tx.To != v.Contract {
		return nil, fmt.Errorf("transaction %s does not target the settlement contract", txHash)
	}

	var receipt *rpcReceipt
	if err := v.RPC.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("transaction %s not yet mined", txHash)
	}
	if receipt.Status != 1 {
		return nil, fmt.Errorf("transaction failed with status: %d", uint64(receipt.Status))
	}

	var head hexutil.Uint64
	if err := v.RPC.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return nil, fmt.Errorf("eth_blockNumber: %w", err)
	}
	block := receipt.BlockNumber.ToInt().Int64()
	if int64(head) < block {
		return nil, fmt.Errorf("transaction %s reported ahead of chain head", txHash)
	}

	if err := v.Store.MarkOrderConfirmed(ctx, orderID, hash.Hex(), tx.From.Hex(), block); err != nil {
		return nil, fmt.Errorf("confirm order %s: %w", orderID, err)
	}

	res := &VerifyResult{
		Confirmed:    true,
		TxHash:       hash.Hex(),
		BlockNumber:  block,
		BuyerAddress: tx.From.Hex(),
	}
	v.publish(ord.UserID, orderID, res)
	v.Log.Info().Str("order", orderID).Str("tx", res.TxHash).Msg("payment verified")
	return res, nil
}

func (v *Verifier) publish(userID, orderID string, res *VerifyResult) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventSettlementCompleted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      v.ServiceName,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.SettlementCompletedPayload{
			OrderID:      orderID,
			UserID:       userID,
			BuyerAddress: res.BuyerAddress,
			TxHash:       res.TxHash,
			BlockNumber:  res.BlockNumber,
		}),
	}
	v.Notify.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventSettlementCompleted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
