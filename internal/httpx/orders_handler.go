package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/unitick/go-settlement.git/internal/chain"
	"github.com/unitick/go-settlement.git/internal/orders"
	"github.com/unitick/go-settlement.git/internal/redisx"
	"github.com/unitick/go-settlement.git/internal/settlement"
)

type Settler interface {
	Settle(ctx context.Context, req settlement.SettleRequest) (*settlement.Result, error)
}

type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, orderID, txHash string) (*settlement.VerifyResult, error)
}

// TicketChain is the read-only contract surface the ticket endpoints expose.
type TicketChain interface {
	VerifyTicket(ctx context.Context, tokenID *big.Int) (bool, error)
	TicketDetails(ctx context.Context, tokenID *big.Int) (chain.TicketView, error)
	IsFreeTicket(ctx context.Context, tokenID *big.Int) (bool, error)
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	GetOrder(ctx context.Context, orderID *big.Int) (chain.OrderView, error)
	GetOrderVendorPayments(ctx context.Context, orderID *big.Int) (chain.VendorPaymentsView, error)
	GetOrderBookings(ctx context.Context, orderID *big.Int) ([]*big.Int, error)
}

// Cache is the slice of *redis.Client the handlers use; narrowed so tests can
// fake hits and misses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type OrdersHandler struct {
	Settler  Settler
	Verifier PaymentVerifier
	Repo     *orders.Repo
	Chain    TicketChain
	Redis    Cache
}

type SettleReq struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	ExternalWallet string `json:"external_wallet,omitempty"`
}

type VerifyReq struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.settle)
	r.Post("/payments/verify", h.verifyPayment)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/chain/{id}", h.getOrderOnChain)
	r.Get("/tickets/{id}", h.getTicket)
	r.Get("/listings", h.listListings)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) settle(w http.ResponseWriter, r *http.Request) {
	var req SettleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	res, err := h.Settler.Settle(r.Context(), settlement.SettleRequest{
		UserID:         req.UserID,
		Email:          req.Email,
		ExternalWallet: req.ExternalWallet,
	})
	if err != nil {
		writeJSON(w, statusForSettleErr(err), map[string]string{"error": err.Error()})
		return
	}

	// cache status so GET is cheap right after checkout
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, res.OrderID)
		body, _ := json.Marshal(map[string]any{"status": orders.StatusConfirmed, "tx_hash": res.TxHash})
		_ = h.Redis.Set(r.Context(), key, body, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, res)
}

// Precondition shortfalls are the caller's to fix (top up, approve, retry);
// everything else is on us or the chain.
func statusForSettleErr(err error) int {
	var gasErr *settlement.InsufficientGasError
	var balErr *settlement.InsufficientBalanceError
	var allowErr *settlement.InsufficientAllowanceError
	switch {
	case errors.As(err, &gasErr), errors.As(err, &balErr), errors.As(err, &allowErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrVendorNotWhitelisted),
		errors.Is(err, settlement.ErrTokenTransferFailed),
		errors.Is(err, settlement.ErrVendorTransferFailed),
		errors.Is(err, settlement.ErrFeeTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chain.ErrTxPending):
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.OrderID == "" || req.TxHash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	// fast path: this tx hash was already verified for this order
	idemKey := fmt.Sprintf(redisx.KeyIdemVerify, req.TxHash)
	if h.Redis != nil {
		if cached, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && cached == req.OrderID {
			writeJSON(w, http.StatusOK, settlement.VerifyResult{
				Confirmed:  true,
				Idempotent: true,
				TxHash:     req.TxHash,
			})
			return
		}
	}

	res, err := h.Verifier.VerifyPayment(ctx, req.OrderID, req.TxHash)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.Redis != nil {
		_ = h.Redis.Set(ctx, idemKey, req.OrderID, redisx.TTLIdempotency).Err()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	ord, err := h.Repo.GetOrder(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	body := map[string]any{"status": ord.Status, "tx_hash": ord.TxHash, "chain_order_id": ord.ChainOrderID}
	b, _ := json.Marshal(body)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) getOrderOnChain(w http.ResponseWriter, r *http.Request) {
	id, ok := new(big.Int).SetString(chi.URLParam(r, "id"), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chain order id"})
		return
	}

	ord, err := h.Chain.GetOrder(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	payments, err := h.Chain.GetOrderVendorPayments(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	bookings, err := h.Chain.GetOrderBookings(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	type payment struct {
		Vendor string `json:"vendor"`
		Amount string `json:"amount"`
		Paid   bool   `json:"paid"`
	}
	out := struct {
		Buyer     string    `json:"buyer"`
		Total     string    `json:"total"`
		Fee       string    `json:"fee"`
		Timestamp int64     `json:"timestamp"`
		Paid      bool      `json:"paid"`
		Metadata  string    `json:"metadata"`
		Payments  []payment `json:"payments"`
		TicketIDs []string  `json:"ticket_ids"`
	}{
		Buyer:     ord.Buyer.Hex(),
		Total:     ord.Total.String(),
		Fee:       ord.Fee.String(),
		Timestamp: ord.Timestamp.Int64(),
		Paid:      ord.Paid,
		Metadata:  ord.Metadata,
	}
	for i := range payments.Vendors {
		out.Payments = append(out.Payments, payment{
			Vendor: payments.Vendors[i].Hex(),
			Amount: payments.Amounts[i].String(),
			Paid:   payments.Paid[i],
		})
	}
	for _, t := range bookings {
		out.TicketIDs = append(out.TicketIDs, t.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := new(big.Int).SetString(chi.URLParam(r, "id"), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ticket id"})
		return
	}

	valid, err := h.Chain.VerifyTicket(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	details, err := h.Chain.TicketDetails(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	owner, err := h.Chain.OwnerOf(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	free, err := h.Chain.IsFreeTicket(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":        valid,
		"owner":        owner.Hex(),
		"free":         free,
		"order_id":     details.OrderID.String(),
		"vendor":       details.Vendor.Hex(),
		"service_name": details.ServiceName,
		"booking_date": details.BookingDate.Int64(),
		"used":         details.Used,
	})
}

func (h *OrdersHandler) listListings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ls, err := h.Repo.ActiveListings(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ls)
}
