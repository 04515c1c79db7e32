package rt

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/pkg/models"
)

// FieldSelection names the provider response fields to read for one
// trading-session phase.
type FieldSelection struct {
	Last  string
	Prior string
}

// phaseFields is the fixed phase to field-name lookup. During pre-market
// the provider's regular price field still holds yesterday's settled
// close, which is exactly what "prior close" means before the open. From
// the open onward that field tracks the current session, so regular,
// post-market and closed phases read the dedicated previous-close field.
var phaseFields = map[models.SessionPhase]FieldSelection{
	models.SessionPrePreMarket: {Last: "postMarketPrice", Prior: "regularMarketPrice"},
	models.SessionPreMarket:    {Last: "preMarketPrice", Prior: "regularMarketPrice"},
	models.SessionRegular:      {Last: "regularMarketPrice", Prior: "regularMarketPreviousClose"},
	models.SessionPostMarket:   {Last: "postMarketPrice", Prior: "regularMarketPreviousClose"},
	models.SessionClosed:       {Last: "postMarketPrice", Prior: "regularMarketPreviousClose"},
}

// fallbackLastField is always present in the provider response, even for
// symbols that do not trade in extended sessions.
const fallbackLastField = "regularMarketPrice"

// preMarketDeltaField, when present during pre-market, lets us infer a
// split-adjusted prior close while the provider's close field is still
// stale. Providers are observed to delay publishing split-adjusted closes
// for part of a trading day; this is a best-effort correction for that,
// not a verified property of the feed.
const preMarketDeltaField = "preMarketChange"

// FieldsFor returns the lookup entry for a phase.
func FieldsFor(phase models.SessionPhase) FieldSelection {
	return phaseFields[phase]
}

// Record is one symbol's slice of a multi-quote provider response. Fields
// the provider omitted are simply absent keys.
type Record map[string]any

func (r Record) float(name string) (float64, bool) {
	v, ok := r[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Selector applies phase-dependent field selection to quote records.
type Selector struct {
	logger *logrus.Entry
	now    func() time.Time
}

func NewSelector(logger *logrus.Logger) *Selector {
	return &Selector{
		logger: logger.WithField("component", "rt"),
		now:    time.Now,
	}
}

// QueryFields returns the provider field list to request for a phase,
// including the unconditional fallback and the pre-market delta field.
func (s *Selector) QueryFields(phase models.SessionPhase) []string {
	sel := phaseFields[phase]
	fields := []string{"symbol", sel.Last, sel.Prior, fallbackLastField}
	if phase == models.SessionPreMarket {
		fields = append(fields, preMarketDeltaField)
	}
	return fields
}

// Apply updates each asset's quote in place from the records keyed by
// ticker. Symbols queried but missing from the response are reported as
// warnings; a zero or NaN field never overwrites a previous good value.
func (s *Selector) Apply(phase models.SessionPhase, records map[string]Record, assets []*models.Asset) {
	var missing []string
	for _, asset := range assets {
		rec, ok := records[asset.Ticker]
		if !ok {
			missing = append(missing, asset.Ticker)
			continue
		}
		s.applyRecord(phase, rec, asset)
	}
	if len(missing) > 0 {
		s.logger.WithFields(logrus.Fields{
			"queried":  len(assets),
			"received": len(records),
			"missing":  missing,
		}).Warn("Provider returned fewer symbols than queried")
	}
}

func (s *Selector) applyRecord(phase models.SessionPhase, rec Record, asset *models.Asset) {
	sel := phaseFields[phase]
	q := &asset.Quote

	lastField := sel.Last
	last, ok := rec.float(lastField)
	if !ok {
		lastField = fallbackLastField
		last, ok = rec.float(lastField)
	}
	if ok && usable(last) {
		q.LastPrice = last
		q.SourceField = lastField
	}

	prior, priorOK := rec.float(sel.Prior)
	if phase == models.SessionPreMarket {
		if delta, hasDelta := rec.float(preMarketDeltaField); hasDelta && delta != 0 && usable(last) {
			prior, priorOK = last-delta, true
		}
	}
	if priorOK && usable(prior) {
		q.PriorClose = prior
	}

	q.Phase = phase
	q.UpdatedAt = s.now()
}

func usable(v float64) bool {
	return v != 0 && !math.IsNaN(v)
}
