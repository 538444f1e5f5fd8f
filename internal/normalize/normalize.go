// Package normalize turns raw register rows into canonical records.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/types"
)

// ErrMalformedRecord is returned for rows that cannot be normalized.
var ErrMalformedRecord = errors.New("malformed record")

// SourceDateLayout is the register's dd/mm/yyyy date format.
const SourceDateLayout = "02/01/2006"

var lowerCaser = cases.Lower(language.Und)

// Lower lower-cases and NFC-normalizes s, trimming surrounding whitespace.
func Lower(s string) string {
	return norm.NFC.String(lowerCaser.String(strings.TrimSpace(s)))
}

// SaleDate parses a dd/mm/yyyy date.
func SaleDate(s string) (types.Date, error) {
	d, err := types.ParseDate(SourceDateLayout, strings.TrimSpace(s))
	if err != nil {
		return types.Date{}, fmt.Errorf("%w: date of sale %q", ErrMalformedRecord, s)
	}
	return d, nil
}

// currencyPrefixes are the forms the euro sign takes in published files,
// including UTF-8 read as windows-1252 and what a lossy decode leaves behind.
var currencyPrefixes = []string{"€", "â‚¬", "\x80", "\ufffd", "EUR"}

// Price parses a published price such as "€1,234.50" into euro cents.
// One leading currency symbol is accepted, thousands separators are dropped,
// and at most two decimals are accepted. Signs and any other leading text are
// rejected.
func Price(s string) (int64, error) {
	v := strings.TrimSpace(s)
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(v, p) {
			v = strings.TrimSpace(v[len(p):])
			break
		}
	}
	v = strings.ReplaceAll(v, ",", "")

	whole, frac, hasFrac := strings.Cut(v, ".")
	if whole == "" || len(frac) > 2 || (hasFrac && frac == "") {
		return 0, fmt.Errorf("%w: price %q", ErrMalformedRecord, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: price %q", ErrMalformedRecord, s)
		}
		digit := int64(r - '0')
		if cents > (math.MaxInt64-digit)/10 {
			return 0, fmt.Errorf("%w: price %q out of range", ErrMalformedRecord, s)
		}
		cents = cents*10 + digit
	}
	return cents, nil
}

// Description buckets the property description. Second-hand wording is
// checked first since "new" can appear inside longer second-hand text.
func Description(s string) types.Description {
	d := Lower(s)
	switch {
	case strings.Contains(d, "second-hand"), strings.Contains(d, "atháimhe"):
		return types.DescriptionSecondHand
	case strings.Contains(d, "new"), strings.Contains(d, "nua"):
		return types.DescriptionNew
	default:
		return types.Description(d)
	}
}

// Record normalizes one raw row.
func Record(raw types.RawRecord) (types.CanonicalRecord, error) {
	date, err := SaleDate(raw.DateOfSale)
	if err != nil {
		return types.CanonicalRecord{}, err
	}
	price, err := Price(raw.Price)
	if err != nil {
		return types.CanonicalRecord{}, err
	}
	address := Lower(raw.Address)
	if address == "" {
		return types.CanonicalRecord{}, fmt.Errorf("%w: empty address", ErrMalformedRecord)
	}
	if n := utf8.RuneCountInString(address); n > types.MaxAddressLength {
		return types.CanonicalRecord{}, fmt.Errorf("%w: address has %d characters, limit %d", ErrMalformedRecord, n, types.MaxAddressLength)
	}
	county := Lower(raw.County)
	if n := utf8.RuneCountInString(county); n > types.MaxCountyLength {
		return types.CanonicalRecord{}, fmt.Errorf("%w: county has %d characters, limit %d", ErrMalformedRecord, n, types.MaxCountyLength)
	}

	return types.CanonicalRecord{
		SaleDate:    date,
		Address:     address,
		PostalCode:  Lower(raw.PostalCode),
		County:      county,
		Price:       price,
		Description: Description(raw.Description),
	}, nil
}

// Normalizer applies the configured malformed-record policy over a batch.
type Normalizer struct {
	policy string
	log    *logger.Logger
}

// New creates a Normalizer.
func New(cfg config.NormalizeConfig, log *logger.Logger) *Normalizer {
	policy := cfg.OnError
	if policy == "" {
		policy = config.OnErrorSkip
	}
	return &Normalizer{policy: policy, log: log.WithStage("transform")}
}

// Result is the outcome of normalizing a batch of raw rows.
type Result struct {
	Records []types.CanonicalRecord
	Skipped int
}

// All normalizes raws in order. Under the skip policy malformed rows are
// logged and counted; under abort the first one fails the batch.
func (n *Normalizer) All(raws []types.RawRecord) (*Result, error) {
	res := &Result{Records: make([]types.CanonicalRecord, 0, len(raws))}

	for i, raw := range raws {
		rec, err := Record(raw)
		if err != nil {
			// Row numbers are 1-based and exclude the header
			if n.policy == config.OnErrorAbort {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			res.Skipped++
			n.log.Warnw("Skipping malformed record", "row", i+1, "error", err)
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if res.Skipped > 0 {
		n.log.Warnw("Malformed records skipped", "count", res.Skipped, "total", len(raws))
	}
	return res, nil
}
