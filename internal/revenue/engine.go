// Package revenue aggregates orders into role-scoped revenue rollups and
// serves them as cached reports.
package revenue

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/orders"
)

const (
	unknownLabel       = "Unknown"
	uncategorizedLabel = "Uncategorized"
)

// Breakdown is one row of a rollup. Key is the stable id; Label is for display.
type Breakdown struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Revenue  decimal.Decimal `json:"revenue"`
	Quantity int64           `json:"quantity,omitempty"`
	Orders   int             `json:"orders,omitempty"`
}

// TrendPoint is revenue for one calendar month.
type TrendPoint struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Year    int             `json:"year"`
	Month   time.Month      `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int             `json:"orders"`
}

// Result is the output of one aggregation run. Every list is sorted by
// revenue descending; equal revenues keep first-seen order.
type Result struct {
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	OrderCount       int             `json:"order_count"`
	ByProduct        []Breakdown     `json:"by_product"`
	ByCategory       []Breakdown     `json:"by_category"`
	ByCustomer       []Breakdown     `json:"by_customer"`
	BySale           []Breakdown     `json:"by_sale"`
	BySaleAdmin      []Breakdown     `json:"by_sale_admin"`
	Trend            []TrendPoint    `json:"trend"`
	UnresolvedOwners int             `json:"unresolved_owners,omitempty"`
	Meta             ReportMeta      `json:"meta"`
}

// TrendChronological returns the trend ordered by month.
func (r Result) TrendChronological() []TrendPoint {
	out := append([]TrendPoint(nil), r.Trend...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// Input carries everything one run needs. Items, when non-nil, replaces the
// items attached to each order. Owners and Customers are directory lookups
// and only consulted for admin viewers.
type Input struct {
	Orders     []orders.Order
	Items      []orders.OrderItem
	ViewerRole actors.Role
	Owners     map[string]actors.Actor
	Customers  map[string]actors.Customer
	Location   *time.Location
}

// directoryRollups reports whether role sees customer and salesperson rollups.
func directoryRollups(role actors.Role) bool {
	switch role {
	case actors.RoleAdmin:
		return true
	case actors.RoleSale, actors.RoleSaleAdmin, actors.RoleCustomer:
		return false
	default:
		return false
	}
}

// Aggregate computes every rollup in one pass over orders and items.
func Aggregate(in Input) Result {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	var itemsByOrder map[int64][]orders.OrderItem
	if in.Items != nil {
		itemsByOrder = make(map[int64][]orders.OrderItem, len(in.Orders))
		for _, it := range in.Items {
			itemsByOrder[it.OrderID] = append(itemsByOrder[it.OrderID], it)
		}
	}

	var (
		total      = decimal.Zero
		product    = newAccumulator()
		category   = newAccumulator()
		customer   = newAccumulator()
		sale       = newAccumulator()
		saleAdmin  = newAccumulator()
		trend      = newTrendAccumulator()
		directory  = directoryRollups(in.ViewerRole)
		unresolved = 0
	)

	for _, order := range in.Orders {
		items := order.Items
		if itemsByOrder != nil {
			items = itemsByOrder[order.ID]
		}

		orderRevenue := decimal.Zero
		for _, it := range items {
			rev := it.Revenue()
			orderRevenue = orderRevenue.Add(rev)
			product.add(it.ProductID, labelOr(it.ProductName, unknownLabel), rev, it.Quantity, 0)
			category.add(it.CategoryID, labelOr(it.CategoryName, uncategorizedLabel), rev, it.Quantity, 0)
		}
		total = total.Add(orderRevenue)

		if directory {
			name := unknownLabel
			if c, ok := in.Customers[order.CustomerID]; ok && c.Name != "" {
				name = c.Name
			}
			customer.add(order.CustomerID, name, orderRevenue, 0, 1)

			owner, ok := in.Owners[order.OwnerID]
			if !ok {
				unresolved++
			} else {
				label := labelOr(owner.Name, owner.ID)
				switch owner.Role {
				case actors.RoleSale:
					sale.add(owner.ID, label, orderRevenue, 0, 1)
				case actors.RoleSaleAdmin:
					saleAdmin.add(owner.ID, label, orderRevenue, 0, 1)
				case actors.RoleAdmin, actors.RoleCustomer:
				}
			}
		}

		trend.add(order.CreatedAt.In(loc), orderRevenue)
	}

	return Result{
		TotalRevenue:     total,
		OrderCount:       len(in.Orders),
		ByProduct:        product.sorted(),
		ByCategory:       category.sorted(),
		ByCustomer:       customer.sorted(),
		BySale:           sale.sorted(),
		BySaleAdmin:      saleAdmin.sorted(),
		Trend:            trend.sorted(),
		UnresolvedOwners: unresolved,
	}
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}

// accumulator keeps rows in first-seen order so the final stable sort breaks
// revenue ties by insertion.
type accumulator struct {
	index map[string]int
	rows  []Breakdown
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (a *accumulator) add(key, label string, revenue decimal.Decimal, qty int64, orderCount int) {
	i, ok := a.index[key]
	if !ok {
		i = len(a.rows)
		a.index[key] = i
		a.rows = append(a.rows, Breakdown{Key: key, Label: label, Revenue: decimal.Zero})
	}
	row := &a.rows[i]
	row.Revenue = row.Revenue.Add(revenue)
	row.Quantity += qty
	row.Orders += orderCount
}

func (a *accumulator) sorted() []Breakdown {
	out := append(make([]Breakdown, 0, len(a.rows)), a.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Revenue.GreaterThan(out[j].Revenue)
	})
	return out
}

type monthKey struct {
	year  int
	month time.Month
}

type trendAccumulator struct {
	index map[monthKey]int
	rows  []TrendPoint
}

func newTrendAccumulator() *trendAccumulator {
	return &trendAccumulator{index: make(map[monthKey]int)}
}

func (t *trendAccumulator) add(at time.Time, revenue decimal.Decimal) {
	k := monthKey{year: at.Year(), month: at.Month()}
	i, ok := t.index[k]
	if !ok {
		i = len(t.rows)
		t.index[k] = i
		t.rows = append(t.rows, TrendPoint{
			Key:     fmt.Sprintf("%04d-%02d", k.year, int(k.month)),
			Label:   fmt.Sprintf("%s %d", k.month.String()[:3], k.year),
			Year:    k.year,
			Month:   k.month,
			Revenue: decimal.Zero,
		})
	}
	row := &t.rows[i]
	row.Revenue = row.Revenue.Add(revenue)
	row.Orders++
}

func (t *trendAccumulator) sorted() []TrendPoint {
	out := append(make([]TrendPoint, 0, len(t.rows)), t.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Revenue.GreaterThan(out[j].Revenue)
	})
	return out
}
