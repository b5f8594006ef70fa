package orders

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var ErrNotFound = errors.New("not found")

// CartItemsForUser loads the cart joined with listing and vendor so the
// builder never trusts prices or wallet addresses supplied by the client.
func (r *Repo) CartItemsForUser(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.id, ci.user_id, ci.listing_id, ci.quantity, ci.booking_date,
		       COALESCE(ci.gift_email,''), COALESCE(ci.gift_name,''),
		       l.title, l.price_cents, v.id, COALESCE(v.wallet_address,'')
		FROM cart_items ci
		JOIN listings l ON l.id = ci.listing_id
		JOIN vendors  v ON v.id = l.vendor_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.ListingID, &it.Quantity, &it.BookingDate,
			&it.GiftEmail, &it.GiftName,
			&it.ServiceName, &it.PriceCents, &it.VendorID, &it.VendorWallet); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, chain_order_id, user_id, buyer_address, total_base_units, fee_base_units,
		       tx_hash, block_number, status, reconciled_from, metadata, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ChainOrderID, &o.UserID, &o.BuyerAddress, &o.TotalBaseUnits, &o.FeeBaseUnits,
			&o.TxHash, &o.BlockNumber, &o.Status, &o.ReconciledFrom, &o.Metadata, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// MarkOrderConfirmed is the verification path's mutation: flip a pending
// order to CONFIRMED with the verified tx coordinates.
func (r *Repo) MarkOrderConfirmed(ctx context.Context, orderID, txHash, buyer string, blockNumber int64) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='CONFIRMED', tx_hash=$2, buyer_address=$3, block_number=$4, updated_at=now()
		WHERE id=$1`, orderID, txHash, buyer, blockNumber)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ActiveListings(ctx context.Context) ([]Listing, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, vendor_id, title, price_cents, active, created_at, updated_at
		FROM listings WHERE active ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.VendorID, &l.Title, &l.PriceCents, &l.Active, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
