package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/unitick/go-settlement.git/internal/chain"
	"github.com/unitick/go-settlement.git/internal/orders"
)

// Known revert causes the simulation step classifies; anything else falls
// through to an opaque message.
var (
	ErrVendorNotWhitelisted = errors.New("vendor whitelist validation failed")
	ErrTokenTransferFailed  = errors.New("token transfer failed: check balance and allowance")
	ErrVendorTransferFailed = errors.New("vendor payout transfer failed")
	ErrFeeTransferFailed    = errors.New("platform fee transfer failed")
)

type SubmitChain interface {
	SimulateCreateOrder(ctx context.Context, from common.Address, p chain.OrderParams) (*big.Int, error)
	EstimateCreateOrderGas(ctx context.Context, from common.Address, p chain.OrderParams) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	SendCreateOrder(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, gasPrice *big.Int, gasLimit uint64, p chain.OrderParams) (common.Hash, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// DelegatedSender submits the simulated request via an externally controlled
// wallet; signing happens outside this service.
type DelegatedSender interface {
	SendCreateOrder(ctx context.Context, from common.Address, p chain.OrderParams) (common.Hash, error)
}

type Submission struct {
	TxHash      common.Hash
	Receipt     *types.Receipt
	PredictedID *big.Int
	State       orders.SettlementState
}

type Submitter struct {
	Chain     SubmitChain
	Delegated DelegatedSender // optional; required only for external wallets
	Log       zerolog.Logger
}

// Submit runs simulate → sign/delegate → send → wait-mined for a built order.
// Any failure before the send leaves no on-chain side effects; a mined
// failure is terminal and a fresh attempt must rebuild nonce and gas price.
func (s *Submitter) Submit(ctx context.Context, acct *chain.Account, b *BuiltOrder) (*Submission, error) {
	sub := &Submission{State: orders.StateSimulating}

	predicted, err := s.Chain.SimulateCreateOrder(ctx, acct.Address, b.Params)
	if err != nil {
		return sub, classifyRevert(err)
	}
	sub.PredictedID = predicted

	var hash common.Hash
	if acct.Key != nil {
		sub.State = orders.StateSigning
		hash, err = s.submitCustodial(ctx, acct, b)
	} else {
		sub.State = orders.StateDelegatedSigning
		if s.Delegated == nil {
			return sub, fmt.Errorf("no delegated sender configured for external wallet %s", acct.Address.Hex())
		}
		hash, err = s.Delegated.SendCreateOrder(ctx, acct.Address, b.Params)
	}
	if err != nil {
		return sub, err
	}
	sub.TxHash = hash
	sub.State = orders.StateSubmitted
	s.Log.Info().Str("tx", hash.Hex()).Str("predicted_order", predicted.String()).Msg("settlement submitted")

	receipt, err := s.Chain.WaitMined(ctx, hash)
	if err != nil {
		return sub, fmt.Errorf("wait settlement tx %s: %w", hash.Hex(), err)
	}
	sub.Receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		sub.State = orders.StateMinedFailed
		return sub, fmt.Errorf("transaction failed with status: %d", receipt.Status)
	}
	sub.State = orders.StateMinedSuccess
	return sub, nil
}

// submitCustodial builds and signs the legacy transaction locally. Balance
// and allowance are re-read immediately before sending to catch anything that
// moved between simulation and now.
func (s *Submitter) submitCustodial(ctx context.Context, acct *chain.Account, b *BuiltOrder) (common.Hash, error) {
	gasLimit, err := s.Chain.EstimateCreateOrderGas(ctx, acct.Address, b.Params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate settlement gas: %w", err)
	}
	gasPrice, err := s.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	nonce, err := s.Chain.PendingNonce(ctx, acct.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	bal, err := s.Chain.TokenBalance(ctx, acct.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("re-check token balance: %w", err)
	}
	if bal.Cmp(b.Total) < 0 {
		return common.Hash{}, &InsufficientBalanceError{Account: acct.Address, Balance: bal, Required: b.Total}
	}
	allow, err := s.Chain.Allowance(ctx, acct.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("re-check allowance: %w", err)
	}
	if allow.Cmp(b.Total) < 0 {
		return common.Hash{}, &InsufficientAllowanceError{Owner: acct.Address, Allowance: allow, Required: b.Total}
	}

	// 20% gas headroom over the estimate
	return s.Chain.SendCreateOrder(ctx, acct.Key, nonce, gasPrice, gasLimit+gasLimit/5, b.Params)
}

func classifyRevert(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Vendor not whitelisted"):
		return fmt.Errorf("%w: %v", ErrVendorNotWhitelisted, err)
	case strings.Contains(msg, "Token transfer failed"):
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	case strings.Contains(msg, "Vendor transfer failed"):
		return fmt.Errorf("%w: %v", ErrVendorTransferFailed, err)
	case strings.Contains(msg, "Fee transfer failed"):
		return fmt.Errorf("%w: %v", ErrFeeTransferFailed, err)
	default:
		return fmt.Errorf("order simulation reverted: %v", err)
	}
}
