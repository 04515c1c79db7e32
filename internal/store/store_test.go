package store

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecache/pkg/models"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) GetBin(ctx context.Context, ns, key string) ([]byte, bool, error) {
	v, ok := f.data[ns+"/"+key]
	return v, ok, nil
}

func (f *fakeKV) SetBin(ctx context.Context, ns, key string, val []byte) error {
	f.data[ns+"/"+key] = val
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestQuoteRawRoundTrip(t *testing.T) {
	kv := newFakeKV()
	s := NewAssetQuoteStore(kv, testLogger())
	id := models.NewAssetId(models.AssetTypeStock, 7)
	text := "D/C,20200831/11090,20200901/11180,20200902/11310"

	require.NoError(t, s.SetQuoteRaw(context.Background(), id, text))

	got, found, err := s.GetQuoteRaw(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, text, got)

	// stored compressed under the asset-id key
	stored, ok := kv.data["assetQuoteRaw/3:7.zstd"]
	require.True(t, ok)
	assert.NotEqual(t, []byte(text), stored)
}

func TestQuoteRawAbsent(t *testing.T) {
	s := NewAssetQuoteStore(newFakeKV(), testLogger())

	_, found, err := s.GetQuoteRaw(context.Background(), models.NewAssetId(models.AssetTypeStock, 1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDepositsRoundTrip(t *testing.T) {
	s := NewAssetQuoteStore(newFakeKV(), testLogger())
	id := models.NewAssetId(models.AssetTypeBrokerNAV, 3)
	entries := []models.DepositEntry{
		{Date: 20200102, Amount: 100000},
		{Date: 20200215, Amount: -2500},
	}

	require.NoError(t, s.SetDeposits(context.Background(), id, entries))

	got, found, err := s.GetDeposits(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entries, got)
}

func TestEncodeDailyCloses(t *testing.T) {
	text, err := EncodeDailyCloses(
		[]models.Date{20200831, 20200901},
		[]float64{110.9, 111.8},
	)
	require.NoError(t, err)
	assert.Equal(t, "D/C,20200831/11090,20200901/11180", text)

	dates, closes, err := ParseDailyCloses(text)
	require.NoError(t, err)
	assert.Equal(t, []models.Date{20200831, 20200901}, dates)
	assert.Equal(t, []float64{110.9, 111.8}, closes)
}

func TestEncodeDailyClosesLengthMismatch(t *testing.T) {
	_, err := EncodeDailyCloses([]models.Date{20200831}, nil)
	require.Error(t, err)
}

func TestParseDailyClosesErrors(t *testing.T) {
	for _, text := range []string{
		"X/Y,20200831/11090",
		"D/C,20200831",
		"D/C,notadate/100",
		"D/C,20200831/abc",
	} {
		_, _, err := ParseDailyCloses(text)
		require.Error(t, err, text)
	}
}

func TestDepositFormat(t *testing.T) {
	entries := []models.DepositEntry{
		{Date: 20200102, Amount: 100000},
		{Date: 20200215, Amount: -2500},
	}
	text := EncodeDeposits(entries)
	assert.Equal(t, "20200102/100000,20200215/-2500", text)

	got, err := ParseDeposits(text)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	empty, err := ParseDeposits("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
