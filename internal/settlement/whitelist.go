package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

type WhitelistChain interface {
	IsVendorWhitelisted(ctx context.Context, vendor common.Address) (bool, error)
	AddVendorToWhitelist(ctx context.Context, vendor common.Address) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Whitelister establishes the "every vendor is whitelisted" precondition
// before the settlement call is ever simulated. Vendors are processed
// strictly sequentially: whitelisting txs come from one platform account and
// concurrent submits would race on its nonce.
type Whitelister struct {
	Chain WhitelistChain
	Log   zerolog.Logger
}

// EnsureWhitelisted is idempotent: already-listed vendors are skipped and
// each distinct absent vendor gets exactly one whitelisting tx, mined before
// the next vendor is considered.
func (w *Whitelister) EnsureWhitelisted(ctx context.Context, vendors []common.Address) error {
	seen := make(map[common.Address]bool, len(vendors))
	for _, vendor := range vendors {
		if seen[vendor] {
			continue
		}
		seen[vendor] = true

		listed, err := w.Chain.IsVendorWhitelisted(ctx, vendor)
		if err != nil {
			return fmt.Errorf("whitelist check for %s: %w", vendor.Hex(), err)
		}
		if listed {
			continue
		}

		hash, err := w.Chain.AddVendorToWhitelist(ctx, vendor)
		if err != nil {
			return fmt.Errorf("whitelist vendor %s: %w", vendor.Hex(), err)
		}
		w.Log.Info().Str("vendor", vendor.Hex()).Str("tx", hash.Hex()).Msg("whitelisting vendor")

		receipt, err := w.Chain.WaitMined(ctx, hash)
		if err != nil {
			return fmt.Errorf("wait whitelist tx for %s: %w", vendor.Hex(), err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("whitelist tx %s for vendor %s failed with status: %d",
				hash.Hex(), vendor.Hex(), receipt.Status)
		}
	}
	return nil
}
