package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Typed precondition errors carry the exact shortfall so callers can surface
// an actionable message (top up gas, buy tokens, approve allowance). None of
// these are retried here; the caller re-invokes after remediation.

type InsufficientGasError struct {
	Account  common.Address
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientGasError) Error() string {
	short := new(big.Int).Sub(e.Required, e.Balance)
	return fmt.Sprintf("insufficient gas balance on %s: have %s wei, need %s wei (short %s)",
		e.Account.Hex(), e.Balance, e.Required, short)
}

type InsufficientBalanceError struct {
	Account  common.Address
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	short := new(big.Int).Sub(e.Required, e.Balance)
	return fmt.Sprintf("insufficient token balance on %s: have %s, owe %s (short %s)",
		e.Account.Hex(), e.Balance, e.Required, short)
}

type InsufficientAllowanceError struct {
	Owner     common.Address
	Allowance *big.Int
	Required  *big.Int
}

func (e *InsufficientAllowanceError) Error() string {
	short := new(big.Int).Sub(e.Required, e.Allowance)
	return fmt.Sprintf("insufficient token allowance from %s: approved %s, owe %s (short %s)",
		e.Owner.Hex(), e.Allowance, e.Required, short)
}

// BalanceReader is the chain surface the validator needs.
type BalanceReader interface {
	GasBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
}

type Validator struct {
	Chain     BalanceReader
	MinGasWei *big.Int
}

// PreFlight fails fast before anything is submitted: gas, then token balance,
// then allowance, each against the computed total (principal + fee).
func (v *Validator) PreFlight(ctx context.Context, account common.Address, total *big.Int) error {
	gas, err := v.Chain.GasBalance(ctx, account)
	if err != nil {
		return fmt.Errorf("read gas balance: %w", err)
	}
	if gas.Cmp(v.MinGasWei) < 0 {
		return &InsufficientGasError{Account: account, Balance: gas, Required: v.MinGasWei}
	}

	bal, err := v.Chain.TokenBalance(ctx, account)
	if err != nil {
		return fmt.Errorf("read token balance: %w", err)
	}
	if bal.Cmp(total) < 0 {
		return &InsufficientBalanceError{Account: account, Balance: bal, Required: total}
	}

	allow, err := v.Chain.Allowance(ctx, account)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allow.Cmp(total) < 0 {
		return &InsufficientAllowanceError{Owner: account, Allowance: allow, Required: total}
	}
	return nil
}
