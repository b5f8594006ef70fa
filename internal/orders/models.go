package orders

import "time"

type Listing struct {
	ID         string
	VendorID   string
	Title      string
	PriceCents int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Vendor struct {
	ID            string
	Name          string
	WalletAddress string
	CreatedAt     time.Time
}

// CartItem is one cart row joined with its listing and vendor; ephemeral,
// deleted once the settlement that consumed it is confirmed.
type CartItem struct {
	ID          string
	UserID      string
	ListingID   string
	Quantity    int
	BookingDate time.Time
	GiftEmail   string
	GiftName    string

	// joined columns
	ServiceName  string
	PriceCents   int64
	VendorID     string
	VendorWallet string
}

type Order struct {
	ID             string
	ChainOrderID   string
	UserID         string
	BuyerAddress   string
	TotalBaseUnits string
	FeeBaseUnits   string
	TxHash         string
	BlockNumber    int64
	Status         Status
	ReconciledFrom string // logs | receipt | predicted
	Metadata       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrderItem struct {
	ID          string
	OrderID     string
	ListingID   string
	Qty         int
	PriceCents  int64
	ServiceName string
}

// Booking is one per cart line item; carries the minted ticket id after
// settlement succeeds.
type Booking struct {
	ID              string
	OrderID         string
	ListingID       string
	UserID          string
	VendorID        string
	TokenID         string
	ContractAddress string
	BookingDate     time.Time
	GiftEmail       string
	GiftName        string
	CreatedAt       time.Time
}

type Notification struct {
	ID          string
	RecipientID string
	Kind        string // order_settled | payout_received | settlement_failed
	OrderID     string
	Message     string
	Read        bool
	CreatedAt   time.Time
}
