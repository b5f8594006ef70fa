package orders

import (
	"encoding/json"
	"time"
)

const (
	EventSettlementCompleted = "SettlementCompleted"
	EventSettlementFailed    = "SettlementFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "settlement-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type VendorShare struct {
	VendorID      string `json:"vendor_id"`
	WalletAddress string `json:"wallet_address"`
	AmountBase    string `json:"amount_base_units"`
	ServiceName   string `json:"service_name"`
}

type SettlementCompletedPayload struct {
	OrderID        string        `json:"order_id"`
	ChainOrderID   string        `json:"chain_order_id"`
	UserID         string        `json:"user_id"`
	BuyerAddress   string        `json:"buyer_address"`
	TxHash         string        `json:"tx_hash"`
	BlockNumber    int64         `json:"block_number"`
	TotalBaseUnits string        `json:"total_base_units"`
	TicketIDs      []string      `json:"ticket_ids"`
	Vendors        []VendorShare `json:"vendors"`
	ReconciledFrom string        `json:"reconciled_from"`
}

type SettlementFailedPayload struct {
	UserID string `json:"user_id"`
	Stage  string `json:"stage"` // settlement state the attempt died in
	Reason string `json:"reason"`
}
