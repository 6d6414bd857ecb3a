// Package normalize turns extracted products into the flat table that is
// persisted as CSV.
package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// ErrEmptyDataset is returned when there is nothing to normalize.
var ErrEmptyDataset = errors.New("no data to normalize")

const (
	idLabel       = "Артикул:"
	noBreakSpace  = "\u00a0"
	lineSeparator = "\n"
)

// Header is the first row of every table.
var Header = []string{"create_date", "link", "id", "name", "regular_price", "promotional_price", "brand"}

// Record is one cleaned product.
type Record struct {
	CreateDate       time.Time
	Link             string
	ID               string
	Name             string
	RegularPrice     string
	PromotionalPrice string
	Brand            string
}

// Row renders the record in Header order. A missing create date is written
// as an empty field.
func (r Record) Row() []string {
	created := ""
	if !r.CreateDate.IsZero() {
		created = r.CreateDate.UTC().Format(crawler.CreateDateLayout)
	}
	return []string{
		created,
		r.Link,
		r.ID,
		r.Name,
		r.RegularPrice,
		r.PromotionalPrice,
		r.Brand,
	}
}

// Table is the normalized dataset.
type Table struct {
	records []Record
}

// Len returns the number of records, header excluded.
func (t Table) Len() int {
	return len(t.records)
}

// Records returns a copy of the cleaned records in input order.
func (t Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Rows returns the header followed by one row per record.
func (t Table) Rows() [][]string {
	rows := make([][]string, 0, len(t.records)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, r := range t.records {
		rows = append(rows, r.Row())
	}
	return rows
}

// Normalize cleans every record. The transformation is total and idempotent.
func Normalize(records []crawler.RawProduct) (Table, error) {
	if len(records) == 0 {
		return Table{}, ErrEmptyDataset
	}
	out := make([]Record, 0, len(records))
	for _, p := range records {
		out = append(out, Record{
			CreateDate:       p.CreateDate.UTC(),
			Link:             p.Link,
			ID:               CleanID(deref(p.ID)),
			Name:             CleanText(deref(p.Name)),
			RegularPrice:     CleanPrice(deref(p.RegularPrice)),
			PromotionalPrice: CleanPrice(deref(p.PromotionalPrice)),
			Brand:            CleanText(deref(p.Brand)),
		})
	}
	return Table{records: out}, nil
}

// CleanID drops the article label and line breaks.
func CleanID(s string) string {
	s = strings.ReplaceAll(s, idLabel, "")
	return CleanText(s)
}

// CleanText drops line breaks and surrounding whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, lineSeparator, ""))
}

// CleanPrice drops no-break spaces used as thousands separators.
func CleanPrice(s string) string {
	return strings.ReplaceAll(s, noBreakSpace, "")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
