// Package types contains the record, key and snapshot types shared by the
// pipeline stages.
package types

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DateLayout is the canonical ISO calendar date representation.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses s with the given time layout and keeps only the date part.
func ParseDate(layout, s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Value implements driver.Valuer. Dates are written as YYYY-MM-DD text so every
// engine stores the same representation.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner. Drivers hand back DATE columns as time.Time
// (MySQL with parseTime, Postgres), as text (SQLite), or as raw bytes.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	case nil:
		return fmt.Errorf("cannot scan NULL into Date")
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanText(s string) error {
	if len(s) > len(DateLayout) {
		// "2023-01-01T00:00:00Z" or "2023-01-01 00:00:00"
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(DateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Description is the bucketed property description.
type Description string

const (
	DescriptionNew        Description = "new"
	DescriptionSecondHand Description = "second-hand"
)

// CanonicalRecord is one normalized property transaction.
// Price is expressed in euro cents.
type CanonicalRecord struct {
	SaleDate    Date
	Address     string
	PostalCode  string
	County      string
	Price       int64
	Description Description
}

// KeyedRecord pairs a record with the natural key it is persisted under.
type KeyedRecord struct {
	Key    NaturalKey
	Record CanonicalRecord
}

// RawRecord is one row of the extracted register with the six retained
// fields, still in their published text form.
type RawRecord struct {
	DateOfSale  string
	Address     string
	PostalCode  string
	County      string
	Price       string
	Description string
}
