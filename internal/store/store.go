package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/pkg/blobcodec"
	"github.com/quotecache/pkg/models"
)

// KV namespaces for the per-asset blobs.
const (
	quoteNS   = "assetQuoteRaw"
	depositNS = "assetNavDeposit"
)

const keySuffix = ".zstd"

// KV is the store's view of the key-value contract. The store assumes
// per-key atomicity from the backend; no cross-key transactions are used.
type KV interface {
	GetBin(ctx context.Context, ns, key string) ([]byte, bool, error)
	SetBin(ctx context.Context, ns, key string, val []byte) error
}

// AssetQuoteStore keeps each asset's full historical series and deposit
// ledger as compressed blobs keyed by asset identity. Every write is a
// full overwrite; there is no incremental patching.
type AssetQuoteStore struct {
	kv     KV
	logger *logrus.Entry
}

func NewAssetQuoteStore(kv KV, logger *logrus.Logger) *AssetQuoteStore {
	return &AssetQuoteStore{
		kv:     kv,
		logger: logger.WithField("component", "store"),
	}
}

func blobKey(id models.AssetId) string {
	return id.String() + keySuffix
}

// GetQuoteRaw fetches and decompresses one asset's series text.
func (s *AssetQuoteStore) GetQuoteRaw(ctx context.Context, id models.AssetId) (string, bool, error) {
	bin, found, err := s.kv.GetBin(ctx, quoteNS, blobKey(id))
	if err != nil || !found {
		return "", false, err
	}
	text, err := blobcodec.Decompress(bin)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// SetQuoteRaw compresses and stores one asset's series text, replacing any
// previous value.
func (s *AssetQuoteStore) SetQuoteRaw(ctx context.Context, id models.AssetId, text string) error {
	return s.kv.SetBin(ctx, quoteNS, blobKey(id), blobcodec.Compress(text))
}

// GetDeposits fetches one broker-NAV asset's deposit ledger.
func (s *AssetQuoteStore) GetDeposits(ctx context.Context, id models.AssetId) ([]models.DepositEntry, bool, error) {
	bin, found, err := s.kv.GetBin(ctx, depositNS, blobKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	text, err := blobcodec.Decompress(bin)
	if err != nil {
		return nil, false, err
	}
	entries, err := ParseDeposits(text)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// SetDeposits stores one broker-NAV asset's deposit ledger, replacing any
// previous value.
func (s *AssetQuoteStore) SetDeposits(ctx context.Context, id models.AssetId, entries []models.DepositEntry) error {
	return s.kv.SetBin(ctx, depositNS, blobKey(id), blobcodec.Compress(EncodeDeposits(entries)))
}
