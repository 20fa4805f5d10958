// Package mapping binds export file columns to order fields and turns mapped
// rows into orders and per-day rollups.
package mapping

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"egc/internal/feecalc"
	"egc/internal/ingest"
	"egc/pkg/contracts/domain"
)

// Field names an order attribute a column can be mapped to.
const (
	FieldItemPrice       = "itemPrice"
	FieldShippingCharged = "shippingCharged"
	FieldShippingCost    = "shippingCost"
	FieldCOGS            = "cogs"
	FieldFeeRate         = "feeRate"
	FieldDate            = "date"
	FieldQuantity        = "quantity"
)

// RequiredFields must all be mapped for a mapping to be valid.
var RequiredFields = []string{FieldItemPrice, FieldShippingCharged, FieldShippingCost, FieldCOGS, FieldFeeRate}

// OptionalFields are suggested when a matching column exists.
var OptionalFields = []string{FieldDate, FieldQuantity}

// UnknownDate groups orders whose date is missing or unreadable.
const UnknownDate = "unknown"

// Mapping maps a field name to a column name. An empty value means unmapped.
type Mapping map[string]string

var synonyms = map[string][]string{
	FieldItemPrice:       {"itemprice", "item price", "price", "sold price", "sale price", "total price", "order price", "item amount", "amount", "total", "transaction amount"},
	FieldShippingCharged: {"shipping charged", "shipping", "buyer paid shipping", "shipping amount", "postage charged", "shipping_charge", "postage"},
	FieldShippingCost:    {"shipping cost", "label cost", "postage cost", "shipping paid", "ship cost", "carrier cost"},
	FieldCOGS:            {"cogs", "cost of goods", "purchase price", "buy cost", "acquisition cost", "item cost", "unit cost"},
	FieldFeeRate:         {"fee rate", "fee rate %", "final value fee %", "fvf %", "ad rate", "promoted rate", "ad fee %", "fee %", "platform fee %", "commission %"},
	FieldDate:            {"date", "order date", "sale date", "sold date", "paid on date", "transaction date", "created"},
	FieldQuantity:        {"quantity", "qty", "units", "quantity sold"},
}

var spaces = regexp.MustCompile(`\s+`)

func norm(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(strings.ToLower(s), " "))
}

// Suggest proposes a mapping for columns. Exact synonym matches win over
// substring matches and no column is used twice. Unmatched fields map to "".
func Suggest(columns []string) Mapping {
	normalized := make([]string, len(columns))
	for i, c := range columns {
		normalized[i] = norm(c)
	}

	m := make(Mapping)
	used := make(map[string]bool)
	fields := append(append([]string(nil), RequiredFields...), OptionalFields...)

	for _, f := range fields {
		syns := synonyms[f]
		pick := -1
		for i, n := range normalized {
			if !used[columns[i]] && contains(syns, n) {
				pick = i
				break
			}
		}
		if pick < 0 {
			for i, n := range normalized {
				if !used[columns[i]] && containsSubstring(n, syns) {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			m[f] = ""
			continue
		}
		m[f] = columns[pick]
		used[columns[pick]] = true
	}
	return m
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSubstring(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Validate lists the problems that keep m from being applied to columns.
func Validate(m Mapping, columns []string) []string {
	var problems []string
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}

	seen := make(map[string]string)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, f := range keys {
		col := m[f]
		if col == "" {
			continue
		}
		if other, dup := seen[col]; dup {
			problems = append(problems, fmt.Sprintf("column %q is mapped to both %s and %s", col, other, f))
		}
		seen[col] = f
	}

	for _, f := range RequiredFields {
		col := m[f]
		switch {
		case col == "":
			problems = append(problems, fmt.Sprintf("missing mapping for %s", f))
		case len(columns) > 0 && !have[col]:
			problems = append(problems, fmt.Sprintf("mapped column for %s not found: %s", f, col))
		}
	}
	return problems
}

// Reconcile applies a saved mapping to the columns of a new file. Fields whose
// saved column is absent are cleared and their columns returned as missing.
func Reconcile(saved Mapping, columns []string) (Mapping, []string) {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	out := make(Mapping, len(saved))
	var missing []string
	for f, col := range saved {
		if col != "" && !have[col] {
			missing = append(missing, col)
			col = ""
		}
		out[f] = col
	}
	sort.Strings(missing)
	return out, missing
}

// MapRowsToOrders reads the mapped columns of every row. Unmapped or
// non-numeric cells count as 0, quantity defaults to 1.
func MapRowsToOrders(rows []domain.NormalizedRow, m Mapping) []domain.OrderLite {
	orders := make([]domain.OrderLite, 0, len(rows))
	for _, r := range rows {
		qty := 1.0
		if q := number(r, m[FieldQuantity]); q >= 1 {
			qty = math.Floor(q)
		}
		orders = append(orders, domain.OrderLite{
			Date:            dateOf(r, m[FieldDate]),
			ItemPrice:       number(r, m[FieldItemPrice]),
			ShippingCharged: number(r, m[FieldShippingCharged]),
			ShippingCost:    number(r, m[FieldShippingCost]),
			COGS:            number(r, m[FieldCOGS]),
			FeeRate:         number(r, m[FieldFeeRate]),
			Qty:             qty,
		})
	}
	return orders
}

func number(r domain.NormalizedRow, col string) float64 {
	if col == "" {
		return 0
	}
	v, ok := ingest.Number(r[col])
	if !ok {
		return 0
	}
	return v
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"Jan-02-06",
	"02-Jan-2006",
}

func dateOf(r domain.NormalizedRow, col string) string {
	if col == "" {
		return UnknownDate
	}
	s, ok := r[col].(string)
	if !ok {
		return UnknownDate
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	// eBay reports append a zone name: "Mar-05-24 10:21:00 PDT"
	if fields := strings.Fields(s); len(fields) > 1 {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, fields[0]); err == nil {
				return t.Format("2006-01-02")
			}
		}
	}
	return s
}

// OrderInputs expresses one mapped order as simple calculator inputs. COGS is
// per unit and the fee rate is the only marketplace charge.
func OrderInputs(o domain.OrderLite) domain.SimpleInputs {
	return domain.SimpleInputs{
		Price:                 o.ItemPrice,
		Quantity:              o.Qty,
		COGS:                  o.COGS,
		BuyerPaysShipping:     o.ShippingCharged > 0,
		ShippingChargeToBuyer: o.ShippingCharged,
		YourShippingCost:      o.ShippingCost,
		FinalValueFeeRate:     o.FeeRate,
	}
}

// ComputeDailyRollups totals orders per date, sorted by date with unknown last.
func ComputeDailyRollups(orders []domain.OrderLite) []domain.DailyRollup {
	d := NewDailyTotals()
	d.Add(orders)
	return d.Rollups()
}

type dayTotals struct {
	domain.DailyRollup
	revenue float64
	units   float64
}

// DailyTotals folds orders into per-day totals as they arrive, so rows never
// have to be kept. Not safe for concurrent use.
type DailyTotals struct {
	byDate map[string]*dayTotals
}

func NewDailyTotals() *DailyTotals {
	return &DailyTotals{byDate: make(map[string]*dayTotals)}
}

// Add folds orders into the totals.
func (d *DailyTotals) Add(orders []domain.OrderLite) {
	for _, o := range orders {
		a, ok := d.byDate[o.Date]
		if !ok {
			a = &dayTotals{DailyRollup: domain.DailyRollup{Date: o.Date}}
			d.byDate[o.Date] = a
		}
		res := feecalc.ComputeSimple(OrderInputs(o))
		a.Orders++
		a.Gross += res.Gross
		a.Fees += res.Fees
		a.Net += res.Net
		a.revenue += res.ItemSubtotal
		a.units += float64(res.Qty)
	}
}

// Rollups returns the rounded totals, sorted by date with unknown last.
func (d *DailyTotals) Rollups() []domain.DailyRollup {
	out := make([]domain.DailyRollup, 0, len(d.byDate))
	for _, a := range d.byDate {
		r := a.DailyRollup
		r.Gross = feecalc.Round2(r.Gross)
		r.Fees = feecalc.Round2(r.Fees)
		r.Net = feecalc.Round2(r.Net)
		r.ASP = feecalc.ASP(a.revenue, a.units)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Date == UnknownDate) != (out[j].Date == UnknownDate) {
			return out[j].Date == UnknownDate
		}
		return out[i].Date < out[j].Date
	})
	return out
}
