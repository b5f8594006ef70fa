package orders

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettlementRecord struct {
	Order    Order
	Items    []OrderItem
	Bookings []Booking
}

// ConfirmSettlement persists a mined settlement in one transaction:
// order + items + bookings (with minted ticket ids), then the consumed cart
// rows are removed. Nothing is committed if any insert fails.
func (r *Repo) ConfirmSettlement(ctx context.Context, rec SettlementRecord) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o := rec.Order
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, chain_order_id, user_id, buyer_address, total_base_units,
		                   fee_base_units, tx_hash, block_number, status, reconciled_from, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.ChainOrderID, o.UserID, o.BuyerAddress, o.TotalBaseUnits,
		o.FeeBaseUnits, o.TxHash, o.BlockNumber, o.Status, o.ReconciledFrom, o.Metadata); err != nil {
		return err
	}

	for _, it := range rec.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, listing_id, qty, price_cents, service_name)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.ListingID, it.Qty, it.PriceCents, it.ServiceName); err != nil {
			return err
		}
	}

	for _, b := range rec.Bookings {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bookings(id, order_id, listing_id, user_id, vendor_id, token_id,
			                     contract_address, booking_date, gift_email, gift_name)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			b.ID, b.OrderID, b.ListingID, b.UserID, b.VendorID, b.TokenID,
			b.ContractAddress, b.BookingDate, b.GiftEmail, b.GiftName); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, o.UserID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// BookingsForOrder backs the dashboard/ticket views.
func (r *Repo) BookingsForOrder(ctx context.Context, orderID string) ([]Booking, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, listing_id, user_id, vendor_id, token_id, contract_address,
		       booking_date, COALESCE(gift_email,''), COALESCE(gift_name,''), created_at
		FROM bookings WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.OrderID, &b.ListingID, &b.UserID, &b.VendorID, &b.TokenID,
			&b.ContractAddress, &b.BookingDate, &b.GiftEmail, &b.GiftName, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type NotificationRepo struct{ DB *pgxpool.Pool }

func (r *NotificationRepo) Insert(ctx context.Context, n Notification) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notifications(id, recipient_id, kind, order_id, message)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.RecipientID, n.Kind, n.OrderID, n.Message)
	return err
}
