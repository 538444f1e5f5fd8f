// Package report renders human-readable run summaries and plan previews.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/pprload/internal/reconciler"
	"github.com/dbsmedya/pprload/internal/types"
)

const (
	addressWidth = 42
	countyWidth  = 10
	priceWidth   = 14
)

// Summary is the end-of-run overview.
type Summary struct {
	RunID      string
	Command    string
	Acquired   int
	Skipped    int
	Snapshot   int
	Collisions types.CollisionStats
	Inserted   int64
	Deleted    int64
	Verify     string
	Duration   time.Duration
	Err        error
}

// Printer writes reports to w, colouring them when w is a colour terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a Printer. Colour is enabled for stdout when the
// terminal supports it.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: w == os.Stdout && color.SupportColor()}
}

// WithColor forces colour on or off.
func (p *Printer) WithColor(enabled bool) *Printer {
	p.color = enabled
	return p
}

func (p *Printer) paint(c color.Color, s string) string {
	if !p.color {
		return s
	}
	return c.Render(s)
}

// Summary writes the run summary.
func (p *Printer) Summary(s Summary) error {
	status := p.paint(color.FgGreen, "SUCCEEDED")
	if s.Err != nil {
		status = p.paint(color.FgRed, "FAILED")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.paint(color.Bold, "pprload "+s.Command), status)
	rows := [][2]string{
		{"Run", s.RunID},
		{"Records acquired", strconv.Itoa(s.Acquired)},
		{"Malformed skipped", strconv.Itoa(s.Skipped)},
		{"Snapshot keys", strconv.Itoa(s.Snapshot)},
		{"Key collisions", fmt.Sprintf("%d records in %d groups", s.Collisions.Records, s.Collisions.Groups)},
		{"Inserted", strconv.FormatInt(s.Inserted, 10)},
		{"Deleted", strconv.FormatInt(s.Deleted, 10)},
		{"Verification", s.Verify},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	if s.Err != nil {
		rows = append(rows, [2]string{"Error", p.paint(color.FgRed, s.Err.Error())})
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "  %s %s\n", runewidth.FillRight(r[0]+":", 19), r[1])
	}

	_, err := io.WriteString(p.w, b.String())
	return err
}

// Plan writes the size of a plan and up to sample rows of each set.
func (p *Printer) Plan(plan *reconciler.Plan, sample int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.paint(color.Bold, "Reconciliation plan"))
	fmt.Fprintf(&b, "  snapshot %d, persisted %d, to insert %s, to delete %s\n",
		plan.SnapshotSize, plan.PersistedSize,
		p.paint(color.FgGreen, strconv.Itoa(len(plan.Inserts))),
		p.paint(color.FgRed, strconv.Itoa(len(plan.Deletes))),
	)

	if plan.Empty() {
		b.WriteString("  clean table already matches the snapshot\n")
		_, err := io.WriteString(p.w, b.String())
		return err
	}

	b.WriteString("\n")
	b.WriteString(p.tableRow(" ", "DATE", "ADDRESS", "COUNTY", "PRICE"))

	for i, kr := range plan.Inserts {
		if i == sample {
			fmt.Fprintf(&b, "  … %d more to insert\n", len(plan.Inserts)-sample)
			break
		}
		r := kr.Record
		b.WriteString(p.tableRow(p.paint(color.FgGreen, "+"), r.SaleDate.String(), r.Address, r.County, FormatEuro(r.Price)))
	}
	for i, k := range plan.Deletes {
		if i == sample {
			fmt.Fprintf(&b, "  … %d more to delete\n", len(plan.Deletes)-sample)
			break
		}
		b.WriteString(p.paint(color.FgRed, "- ") + string(k) + "\n")
	}

	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) tableRow(marker, date, address, county, price string) string {
	return fmt.Sprintf("%s %-10s  %s  %s  %s\n",
		marker,
		date,
		runewidth.FillRight(runewidth.Truncate(address, addressWidth, "…"), addressWidth),
		runewidth.FillRight(runewidth.Truncate(county, countyWidth, "…"), countyWidth),
		runewidth.FillLeft(price, priceWidth),
	)
}

// FormatEuro renders cents as "€1,234.50".
func FormatEuro(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	for i := len(whole) - 3; i > 0; i -= 3 {
		whole = whole[:i] + "," + whole[i:]
	}
	return fmt.Sprintf("%s€%s.%02d", sign, whole, cents%100)
}
