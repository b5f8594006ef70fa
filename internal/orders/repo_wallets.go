package orders

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/unitick/go-settlement.git/internal/chain"
)

// WalletRepo stores encrypted custodial key blobs, one per user.
type WalletRepo struct{ DB *pgxpool.Pool }

func (r *WalletRepo) Load(ctx context.Context, userID string) ([]byte, error) {
	var blob []byte
	err := r.DB.QueryRow(ctx, `SELECT key_blob FROM wallets WHERE user_id=$1`, userID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chain.ErrNoKey
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (r *WalletRepo) Save(ctx context.Context, userID string, blob []byte) error {
	// first writer wins; a concurrent provision must not overwrite key material
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO wallets(user_id, key_blob) VALUES ($1,$2)
		ON CONFLICT (user_id) DO NOTHING`, userID, blob)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return chain.ErrKeyExists
	}
	return nil
}
