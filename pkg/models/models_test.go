package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf(t *testing.T) {
	d := DateOf(time.Date(2020, 8, 31, 15, 59, 0, 0, NewYork))
	assert.Equal(t, Date(20200831), d)
	assert.Equal(t, "20200831", d.String())
	assert.Equal(t, time.Date(2020, 8, 31, 0, 0, 0, 0, NewYork), d.Time(NewYork))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20200831")
	require.NoError(t, err)
	assert.Equal(t, Date(20200831), d)

	for _, s := range []string{"2020-08-31", "202008", "abcdefgh"} {
		_, err := ParseDate(s)
		require.Error(t, err, s)
	}
}

func TestAssetIdPacking(t *testing.T) {
	id := NewAssetId(AssetTypeBrokerNAV, 1)
	assert.Equal(t, AssetTypeBrokerNAV, id.Type())
	assert.Equal(t, uint32(1), id.SubID())
	assert.Equal(t, "5:1", id.String())

	parsed, err := ParseAssetId("5:1")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	big := NewAssetId(AssetTypeStock, 0x00ffffff)
	assert.Equal(t, uint32(0x00ffffff), big.SubID())
	assert.Equal(t, AssetTypeStock, big.Type())
}

func TestParseAssetIdErrors(t *testing.T) {
	for _, s := range []string{"", "5", "x:1", "5:x", "5:16777216"} {
		_, err := ParseAssetId(s)
		require.Error(t, err, s)
	}
}

func TestAssetTypeForCode(t *testing.T) {
	tp, ok := AssetTypeForCode("S")
	require.True(t, ok)
	assert.Equal(t, AssetTypeStock, tp)

	_, ok = AssetTypeForCode("X")
	assert.False(t, ok)
}

func TestSessionPhaseAt(t *testing.T) {
	// 2021-03-16 is a Tuesday
	day := func(h, m int) time.Time {
		return time.Date(2021, 3, 16, h, m, 0, 0, NewYork)
	}

	tests := []struct {
		at   time.Time
		want SessionPhase
	}{
		{day(2, 0), SessionPrePreMarket},
		{day(4, 0), SessionPreMarket},
		{day(9, 29), SessionPreMarket},
		{day(9, 30), SessionRegular},
		{day(15, 59), SessionRegular},
		{day(16, 0), SessionPostMarket},
		{day(19, 59), SessionPostMarket},
		{day(20, 0), SessionClosed},
		// Saturday
		{time.Date(2021, 3, 20, 12, 0, 0, 0, NewYork), SessionClosed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SessionPhaseAt(tt.at), tt.at.String())
	}
}

func TestSessionPhaseAtConvertsZone(t *testing.T) {
	// 14:00 UTC on a Tuesday is 10:00 ET
	utc := time.Date(2021, 3, 16, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, SessionRegular, SessionPhaseAt(utc))
}
