package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AssetType tags the sub-table an asset row lives in.
type AssetType uint8

const (
	AssetTypeUnknown   AssetType = 0
	AssetTypeCash      AssetType = 1
	AssetTypeCurrPair  AssetType = 2
	AssetTypeStock     AssetType = 3
	AssetTypeFinIndex  AssetType = 4
	AssetTypeBrokerNAV AssetType = 5
)

// assetTypeCodes maps the single-letter sub-table codes used in the raw
// asset document to asset types.
var assetTypeCodes = map[string]AssetType{
	"C": AssetTypeCash,
	"D": AssetTypeCurrPair,
	"S": AssetTypeStock,
	"I": AssetTypeFinIndex,
	"N": AssetTypeBrokerNAV,
}

// AssetTypeForCode resolves a sub-table code letter.
func AssetTypeForCode(code string) (AssetType, bool) {
	t, ok := assetTypeCodes[code]
	return t, ok
}

// AssetId packs an asset type tag and a sub-table id into 32 bits. It is
// immutable once assigned and keys all blob storage.
type AssetId uint32

// NewAssetId composes an AssetId from its parts. SubID must fit in 24 bits.
func NewAssetId(t AssetType, subID uint32) AssetId {
	return AssetId(uint32(t)<<24 | subID&0x00ffffff)
}

// Type returns the asset-type tag.
func (id AssetId) Type() AssetType { return AssetType(id >> 24) }

// SubID returns the id within the asset's sub-table.
func (id AssetId) SubID() uint32 { return uint32(id) & 0x00ffffff }

// String renders the id as "<type>:<subID>", e.g. "5:1".
func (id AssetId) String() string {
	return fmt.Sprintf("%d:%d", id.Type(), id.SubID())
}

// ParseAssetId parses the "<type>:<subID>" form.
func ParseAssetId(s string) (AssetId, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid asset id %q", s)
	}
	t, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	sub, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || sub > 0x00ffffff {
		return 0, fmt.Errorf("invalid asset id %q: sub-table id out of range", s)
	}
	return NewAssetId(AssetType(t), uint32(sub)), nil
}

// User is a row of the users dataset. BrokerNAV assets reference their
// owning user by name.
type User struct {
	ID           int     `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	Initials     string  `json:"initials"`
	VisibleUsers []*User `json:"-"`
}

// Asset is the rebuilt, cross-referenced view of one tradable instrument.
// Quote fields are overwritten in place by quote refreshes, never appended.
type Asset struct {
	ID       AssetId
	Ticker   string
	Name     string
	Currency string

	// Only set for broker-NAV type assets.
	User *User

	// From the web-facing span config; zero when the asset is not wanted.
	ExpectedHistoryStart time.Time

	Quote RtQuote
}

// RtQuote holds the latest real-time values for one asset.
type RtQuote struct {
	LastPrice   float64
	PriorClose  float64
	SourceField string
	Phase       SessionPhase
	UpdatedAt   time.Time
}

// HasLastPrice reports whether a usable last price has been recorded.
func (q *RtQuote) HasLastPrice() bool {
	return q.LastPrice != 0 && !math.IsNaN(q.LastPrice)
}

// DepositEntry is one dated signed cash movement of a broker-NAV ledger.
type DepositEntry struct {
	Date   Date
	Amount float64
}
