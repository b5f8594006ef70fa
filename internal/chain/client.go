package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/unitick/go-settlement.git/internal/config"
)

// Every generic read goes through this timeout; a hung RPC node must not hold
// the enclosing request longer.
const readTimeout = 10 * time.Second

var (
	ErrTxPending  = errors.New("transaction still pending")
	ErrNoPlatform = errors.New("no platform key configured")
)

// Backend is the subset of *ethclient.Client the settlement flow uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// OrderParams are the parallel parameter lists createOrder requires. All four
// slices are index-aligned, one entry per cart line item.
type OrderParams struct {
	Vendors      []common.Address
	Amounts      []*big.Int
	ServiceNames []string
	BookingDates []*big.Int
	Metadata     string
}

type OrderView struct {
	Buyer     common.Address
	Total     *big.Int
	Fee       *big.Int
	Timestamp *big.Int
	Paid      bool
	Metadata  string
}

type VendorPaymentsView struct {
	Vendors []common.Address
	Amounts []*big.Int
	Paid    []bool
}

type TicketView struct {
	OrderID     *big.Int
	Vendor      common.Address
	ServiceName string
	BookingDate *big.Int
	Used        bool
}

type Client struct {
	backend      Backend
	cfg          config.Chain
	contract     common.Address
	token        common.Address
	signer       types.Signer
	platformKey  *ecdsa.PrivateKey
	platformAddr common.Address
	minGas       *big.Int
}

func New(backend Backend, cfg config.Chain) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddr)
	}
	if !common.IsHexAddress(cfg.TokenAddr) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddr)
	}
	minGas, ok := new(big.Int).SetString(cfg.MinGasWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid min gas amount %q", cfg.MinGasWei)
	}
	c := &Client{
		backend:  backend,
		cfg:      cfg,
		contract: common.HexToAddress(cfg.ContractAddr),
		token:    common.HexToAddress(cfg.TokenAddr),
		signer:   types.NewEIP155Signer(big.NewInt(cfg.ID)),
		minGas:   minGas,
	}
	if cfg.PlatformKeyHex != "" {
		key, err := crypto.HexToECDSA(cfg.PlatformKeyHex)
		if err != nil {
			return nil, fmt.Errorf("platform key: %w", err)
		}
		c.platformKey = key
		c.platformAddr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) ContractAddress() common.Address { return c.contract }
func (c *Client) MinGasBalance() *big.Int         { return new(big.Int).Set(c.minGas) }

// ---- reads ----

func (c *Client) call(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	out, err := c.backend.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return a.Unpack(method, out)
}

func (c *Client) GasBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return c.backend.BalanceAt(cctx, account, nil)
}

func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.token, tokenABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Allowance reads what the owner has approved for the settlement contract.
func (c *Client) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.token, tokenABI, "allowance", owner, c.contract)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) IsVendorWhitelisted(ctx context.Context, vendor common.Address) (bool, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "isVendorWhitelisted", vendor)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) GetOrder(ctx context.Context, orderID *big.Int) (OrderView, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "getOrder", orderID)
	if err != nil {
		return OrderView{}, err
	}
	return OrderView{
		Buyer:     out[0].(common.Address),
		Total:     out[1].(*big.Int),
		Fee:       out[2].(*big.Int),
		Timestamp: out[3].(*big.Int),
		Paid:      out[4].(bool),
		Metadata:  out[5].(string),
	}, nil
}

func (c *Client) GetOrderVendorPayments(ctx context.Context, orderID *big.Int) (VendorPaymentsView, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "getOrderVendorPayments", orderID)
	if err != nil {
		return VendorPaymentsView{}, err
	}
	return VendorPaymentsView{
		Vendors: out[0].([]common.Address),
		Amounts: out[1].([]*big.Int),
		Paid:    out[2].([]bool),
	}, nil
}

func (c *Client) GetOrderBookings(ctx context.Context, orderID *big.Int) ([]*big.Int, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "getOrderBookings", orderID)
	if err != nil {
		return nil, err
	}
	return out[0].([]*big.Int), nil
}

func (c *Client) VerifyTicket(ctx context.Context, tokenID *big.Int) (bool, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "verifyTicket", tokenID)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) TicketDetails(ctx context.Context, tokenID *big.Int) (TicketView, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "getTicketDetails", tokenID)
	if err != nil {
		return TicketView{}, err
	}
	return TicketView{
		OrderID:     out[0].(*big.Int),
		Vendor:      out[1].(common.Address),
		ServiceName: out[2].(string),
		BookingDate: out[3].(*big.Int),
		Used:        out[4].(bool),
	}, nil
}

func (c *Client) IsFreeTicket(ctx context.Context, tokenID *big.Int) (bool, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "isFreeTicket", tokenID)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := c.call(ctx, c.contract, unitickABI, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// ---- settlement tx plumbing ----

// SimulateCreateOrder runs the settlement call as an eth_call and returns the
// predicted order id. A revert surfaces as an error for the caller to classify.
func (c *Client) SimulateCreateOrder(ctx context.Context, from common.Address, p OrderParams) (*big.Int, error) {
	data, err := unitickABI.Pack("createOrder", p.Vendors, p.Amounts, p.ServiceNames, p.BookingDates, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("pack createOrder: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	out, err := c.backend.CallContract(cctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := unitickABI.Unpack("createOrder", out)
	if err != nil {
		return nil, fmt.Errorf("unpack createOrder result: %w", err)
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) EstimateCreateOrderGas(ctx context.Context, from common.Address, p OrderParams) (uint64, error) {
	data, err := unitickABI.Pack("createOrder", p.Vendors, p.Amounts, p.ServiceNames, p.BookingDates, p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("pack createOrder: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return c.backend.EstimateGas(cctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return c.backend.SuggestGasPrice(cctx)
}

func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return c.backend.PendingNonceAt(cctx, account)
}

// SendCreateOrder signs a legacy-format transaction locally and submits it.
func (c *Client) SendCreateOrder(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, gasPrice *big.Int, gasLimit uint64, p OrderParams) (common.Hash, error) {
	data, err := unitickABI.Pack("createOrder", p.Vendors, p.Amounts, p.ServiceNames, p.BookingDates, p.Metadata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack createOrder: %w", err)
	}
	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign createOrder: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send createOrder: %w", err)
	}
	return signed.Hash(), nil
}

// AddVendorToWhitelist submits a whitelisting tx from the platform account.
// Callers must serialize invocations; concurrent submits from one account
// would race on the nonce.
func (c *Client) AddVendorToWhitelist(ctx context.Context, vendor common.Address) (common.Hash, error) {
	if c.platformKey == nil {
		return common.Hash{}, ErrNoPlatform
	}
	data, err := unitickABI.Pack("addVendorToWhitelist", vendor)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack addVendorToWhitelist: %w", err)
	}
	nonce, err := c.PendingNonce(ctx, c.platformAddr)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.platformAddr, To: &c.contract, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate whitelist gas: %w", err)
	}
	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit+gasLimit/5, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.platformKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign whitelist tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send whitelist tx: %w", err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until the configured confirm timeout and
// returns ErrTxPending when it elapses, so callers can tell "still pending"
// apart from "mined and failed".
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.cfg.ConfirmTimeout)
	for {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tx %s not mined after %s", ErrTxPending, hash.Hex(), c.cfg.ConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ReceiptInterval):
		}
	}
}

// FilterOrderLogs queries the node for settlement events scoped to the
// contract address and the exact block the receipt landed in.
func (c *Client) FilterOrderLogs(ctx context.Context, blockHash common.Hash) ([]types.Log, error) {
	cctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	return c.backend.FilterLogs(cctx, ethereum.FilterQuery{
		BlockHash: &blockHash,
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{OrderCreatedID, TicketMintedID}},
	})
}
