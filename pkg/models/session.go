package models

import "time"

// SessionPhase is the current phase of the US equity trading day. It decides
// which provider field represents "current price" and "prior close".
type SessionPhase int

const (
	SessionPrePreMarket SessionPhase = iota // after midnight ET, before pre-market opens
	SessionPreMarket                        // 04:00-09:30 ET
	SessionRegular                          // 09:30-16:00 ET
	SessionPostMarket                       // 16:00-20:00 ET
	SessionClosed                           // 20:00-24:00 ET and weekends
)

// String returns the phase name.
func (p SessionPhase) String() string {
	switch p {
	case SessionPrePreMarket:
		return "pre-pre-market"
	case SessionPreMarket:
		return "pre-market"
	case SessionRegular:
		return "regular"
	case SessionPostMarket:
		return "post-market"
	default:
		return "closed"
	}
}

// NewYork is the exchange's local trading timezone.
var NewYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// SessionPhaseAt classifies a wall-clock instant. Holidays are not
// considered; callers tolerate an extra refresh on a closed day.
func SessionPhaseAt(t time.Time) SessionPhase {
	et := t.In(NewYork)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return SessionClosed
	}
	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins < 4*60:
		return SessionPrePreMarket
	case mins < 9*60+30:
		return SessionPreMarket
	case mins < 16*60:
		return SessionRegular
	case mins < 20*60:
		return SessionPostMarket
	default:
		return SessionClosed
	}
}
