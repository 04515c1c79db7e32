package histprice

import "strings"

// DataNeed is the capability set of a historical request: which optional
// output arrays the caller wants materialized. The decoder only allocates
// arrays whose capability is present; everything else is scanned and
// dropped.
type DataNeed uint8

const (
	NeedAdjClose DataNeed = 1 << iota
	NeedOHLCV
	NeedSplit
	NeedDividend
)

// Has reports membership of a capability in the set.
func (n DataNeed) Has(cap DataNeed) bool {
	return n&cap == cap
}

// events renders the provider's comma-joined events query parameter for
// this capability set.
func (n DataNeed) events() string {
	var parts []string
	if n.Has(NeedAdjClose) || n.Has(NeedOHLCV) {
		parts = append(parts, "history")
	}
	if n.Has(NeedSplit) {
		parts = append(parts, "split")
	}
	if n.Has(NeedDividend) {
		parts = append(parts, "dividend")
	}
	return strings.Join(parts, ",")
}
