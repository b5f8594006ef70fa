package settlement

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/unitick/go-settlement.git/internal/chain"
	"github.com/unitick/go-settlement.git/internal/orders"
)

// feeNumerator/feeDenominator encode the fixed 0.5% platform fee.
const (
	feeNumerator   = 5
	feeDenominator = 1000
)

type BuiltOrder struct {
	Params    chain.OrderParams
	Items     []orders.CartItem
	Principal *big.Int
	Fee       *big.Int
	Total     *big.Int // principal + fee, what the validator and submitter check against
}

type orderMetadata struct {
	BuyerEmail string `json:"buyer_email"`
	ItemCount  int    `json:"item_count"`
	CreatedAt  int64  `json:"created_at"`
}

// BuildOrder turns cart line items into the contract's parameter lists.
// One vendor payment per line item, never merged per vendor: the contract
// signature demands index alignment with serviceNames and bookingDates.
func BuildOrder(items []orders.CartItem, buyerEmail string, tokenDecimals int, now time.Time) (*BuiltOrder, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cart is empty")
	}
	if tokenDecimals < 2 {
		return nil, fmt.Errorf("token decimals %d cannot represent cent prices", tokenDecimals)
	}

	b := &BuiltOrder{
		Items:     items,
		Principal: new(big.Int),
	}
	for _, it := range items {
		if it.VendorWallet == "" || !common.IsHexAddress(it.VendorWallet) {
			return nil, fmt.Errorf("listing %s has no payable vendor wallet", it.ListingID)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for listing %s", it.Quantity, it.ListingID)
		}
		if it.PriceCents < 0 {
			return nil, fmt.Errorf("invalid price for listing %s", it.ListingID)
		}
		amount := centsToBaseUnits(it.PriceCents*int64(it.Quantity), tokenDecimals)
		b.Params.Vendors = append(b.Params.Vendors, common.HexToAddress(it.VendorWallet))
		b.Params.Amounts = append(b.Params.Amounts, amount)
		b.Params.ServiceNames = append(b.Params.ServiceNames, it.ServiceName)
		b.Params.BookingDates = append(b.Params.BookingDates, big.NewInt(it.BookingDate.Unix()))
		b.Principal.Add(b.Principal, amount)
	}

	b.Fee = new(big.Int).Mul(b.Principal, big.NewInt(feeNumerator))
	b.Fee.Div(b.Fee, big.NewInt(feeDenominator))
	b.Total = new(big.Int).Add(b.Principal, b.Fee)

	meta, err := json.Marshal(orderMetadata{
		BuyerEmail: buyerEmail,
		ItemCount:  len(items),
		CreatedAt:  now.Unix(),
	})
	if err != nil {
		return nil, err
	}
	b.Params.Metadata = string(meta)
	return b, nil
}

// centsToBaseUnits converts a cent amount to the token's integer base units.
func centsToBaseUnits(cents int64, decimals int) *big.Int {
	v := big.NewInt(cents)
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)
	return v.Mul(v, exp)
}
