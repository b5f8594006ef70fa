package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrNoKey     = errors.New("no custodial key material")
	ErrKeyExists = errors.New("custodial key already provisioned")
)

// KeyStore persists encrypted key blobs per user. Save must be first-writer-
// wins and return ErrKeyExists when a concurrent provision got there first.
type KeyStore interface {
	Load(ctx context.Context, userID string) ([]byte, error)
	Save(ctx context.Context, userID string, blob []byte) error
}

// Account is a resolved signing identity. Key is nil for externally held
// wallets where signing is delegated.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// WalletResolver loads or provisions the custodial secp256k1 key for a user.
// Key material is sealed with XChaCha20-Poly1305 under the service master key
// before it touches storage.
type WalletResolver struct {
	Store KeyStore
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func NewWalletResolver(store KeyStore, masterKey []byte) (*WalletResolver, error) {
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("wallet master key: %w", err)
	}
	return &WalletResolver{Store: store, aead: aead}, nil
}

// Resolve returns the signing account for a user, provisioning a fresh key on
// first use. Any failure here is fatal to the enclosing settlement.
func (r *WalletResolver) Resolve(ctx context.Context, userID, email string) (*Account, error) {
	blob, err := r.Store.Load(ctx, userID)
	if errors.Is(err, ErrNoKey) {
		if err := r.provision(ctx, userID); err != nil && !errors.Is(err, ErrKeyExists) {
			return nil, fmt.Errorf("provision wallet for %s: %w", userID, err)
		}
		// retry: read back whatever won the provision race
		blob, err = r.Store.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load wallet for %s after provision: %w", userID, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load wallet for %s: %w", userID, err)
	}

	key, err := r.open(userID, blob)
	if err != nil {
		return nil, fmt.Errorf("unseal wallet for %s: %w", userID, err)
	}
	return &Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}, nil
}

func (r *WalletResolver) provision(ctx context.Context, userID string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := r.aead.Seal(nonce, nonce, crypto.FromECDSA(key), []byte(userID))
	return r.Store.Save(ctx, userID, sealed)
}

func (r *WalletResolver) open(userID string, blob []byte) (*ecdsa.PrivateKey, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("key blob too short")
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	raw, err := r.aead.Open(nil, nonce, ct, []byte(userID))
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(raw)
}
