package settlement

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unitick/go-settlement.git/internal/orders"
)

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
)

func cartItem(listing, wallet string, priceCents int64, qty int) orders.CartItem {
	return orders.CartItem{
		ID:           "ci-" + listing,
		UserID:       "user-1",
		ListingID:    listing,
		Quantity:     qty,
		BookingDate:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		ServiceName:  "Tour " + listing,
		PriceCents:   priceCents,
		VendorID:     "vendor-" + listing,
		VendorWallet: wallet,
	}
}

func TestBuildOrderTotalWithFee(t *testing.T) {
	// $10 qty 1 + $20 qty 2 = $50 principal, +0.5% fee = 50.25 in 6-dec base units
	items := []orders.CartItem{
		cartItem("a", walletA, 1000, 1),
		cartItem("b", walletB, 2000, 2),
	}
	b, err := BuildOrder(items, "buyer@example.com", 6, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "50000000", b.Principal.String())
	assert.Equal(t, "250000", b.Fee.String())
	assert.Equal(t, "50250000", b.Total.String())
}

func TestBuildOrderArraysStayPerItem(t *testing.T) {
	// three items, two of them from the same vendor: arrays must keep
	// length 3, never collapse to one entry per vendor
	items := []orders.CartItem{
		cartItem("a", walletA, 1000, 1),
		cartItem("b", walletA, 500, 1),
		cartItem("c", walletB, 2000, 1),
	}
	b, err := BuildOrder(items, "buyer@example.com", 6, time.Now())
	require.NoError(t, err)

	require.Len(t, b.Params.Vendors, 3)
	require.Len(t, b.Params.Amounts, 3)
	require.Len(t, b.Params.ServiceNames, 3)
	require.Len(t, b.Params.BookingDates, 3)
	assert.Equal(t, b.Params.Vendors[0], b.Params.Vendors[1])
}

func TestBuildOrderBookingDatesAreUnix(t *testing.T) {
	items := []orders.CartItem{cartItem("a", walletA, 1000, 1)}
	b, err := BuildOrder(items, "buyer@example.com", 6, time.Now())
	require.NoError(t, err)

	want := big.NewInt(items[0].BookingDate.Unix())
	assert.Zero(t, want.Cmp(b.Params.BookingDates[0]))
}

func TestBuildOrderMetadata(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []orders.CartItem{
		cartItem("a", walletA, 1000, 1),
		cartItem("b", walletB, 2000, 1),
	}
	b, err := BuildOrder(items, "buyer@example.com", 6, now)
	require.NoError(t, err)

	var meta orderMetadata
	require.NoError(t, json.Unmarshal([]byte(b.Params.Metadata), &meta))
	assert.Equal(t, "buyer@example.com", meta.BuyerEmail)
	assert.Equal(t, 2, meta.ItemCount)
	assert.Equal(t, now.Unix(), meta.CreatedAt)
}

func TestBuildOrderRejectsBadInput(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		_, err := BuildOrder(nil, "x@example.com", 6, time.Now())
		assert.Error(t, err)
	})
	t.Run("missing vendor wallet", func(t *testing.T) {
		it := cartItem("a", "", 1000, 1)
		_, err := BuildOrder([]orders.CartItem{it}, "x@example.com", 6, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no payable vendor wallet")
	})
	t.Run("zero quantity", func(t *testing.T) {
		it := cartItem("a", walletA, 1000, 0)
		_, err := BuildOrder([]orders.CartItem{it}, "x@example.com", 6, time.Now())
		assert.Error(t, err)
	})
	t.Run("too few token decimals", func(t *testing.T) {
		it := cartItem("a", walletA, 1000, 1)
		_, err := BuildOrder([]orders.CartItem{it}, "x@example.com", 1, time.Now())
		assert.Error(t, err)
	})
}

func TestCentsToBaseUnits(t *testing.T) {
	assert.Equal(t, "10000", centsToBaseUnits(1, 6).String())
	assert.Equal(t, "1", centsToBaseUnits(1, 2).String())
	assert.Equal(t, "0", centsToBaseUnits(0, 18).String())
}
