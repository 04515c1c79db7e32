package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/quotecache/pkg/models"
)

// Daily close series are stored as "D/C,YYYYMMDD/closeInt,..." where
// closeInt is the close price in cents. The "D/C" header names the two
// columns of each following segment.
const seriesHeader = "D/C"

// EncodeDailyCloses renders parallel date and close arrays into the series
// text form. Lengths must match.
func EncodeDailyCloses(dates []models.Date, closes []float64) (string, error) {
	if len(dates) != len(closes) {
		return "", fmt.Errorf("store: %d dates vs %d closes", len(dates), len(closes))
	}
	var sb strings.Builder
	sb.Grow(len(seriesHeader) + len(dates)*16)
	sb.WriteString(seriesHeader)
	for i, d := range dates {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(int(d)))
		sb.WriteByte('/')
		sb.WriteString(strconv.FormatInt(int64(math.Round(closes[i]*100)), 10))
	}
	return sb.String(), nil
}

// ParseDailyCloses is the inverse of EncodeDailyCloses.
func ParseDailyCloses(text string) ([]models.Date, []float64, error) {
	segments := strings.Split(text, ",")
	if segments[0] != seriesHeader {
		return nil, nil, fmt.Errorf("store: unexpected series header %q", segments[0])
	}
	dates := make([]models.Date, 0, len(segments)-1)
	closes := make([]float64, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		d, cents, err := parseSegment(seg)
		if err != nil {
			return nil, nil, err
		}
		dates = append(dates, d)
		closes = append(closes, float64(cents)/100)
	}
	return dates, closes, nil
}

// Deposit ledgers are stored as "YYYYMMDD/signedIntAmount,..." with whole
// currency units, no header.

// EncodeDeposits renders a deposit ledger into its text form.
func EncodeDeposits(entries []models.DepositEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d/%d", int(e.Date), int64(math.Round(e.Amount)))
	}
	return strings.Join(parts, ",")
}

// ParseDeposits is the inverse of EncodeDeposits. An empty text yields an
// empty ledger.
func ParseDeposits(text string) ([]models.DepositEntry, error) {
	if text == "" {
		return nil, nil
	}
	segments := strings.Split(text, ",")
	entries := make([]models.DepositEntry, 0, len(segments))
	for _, seg := range segments {
		d, amount, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, models.DepositEntry{Date: d, Amount: float64(amount)})
	}
	return entries, nil
}

func parseSegment(seg string) (models.Date, int64, error) {
	dateStr, valStr, ok := strings.Cut(seg, "/")
	if !ok {
		return 0, 0, fmt.Errorf("store: malformed segment %q", seg)
	}
	d, err := strconv.Atoi(dateStr)
	if err != nil {
		return 0, 0, fmt.Errorf("store: malformed date in segment %q: %w", seg, err)
	}
	v, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("store: malformed value in segment %q: %w", seg, err)
	}
	return models.Date(d), v, nil
}
