package orders

import (
	"strings"
	"time"
)

type Item struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PriceCents int64      `json:"price_cents"`
	Stock      int        `json:"stock"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Available  bool       `json:"available"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Expired reports whether the item's expiry lies before now.
func (it Item) Expired(now time.Time) bool {
	return it.ExpiresAt != nil && it.ExpiresAt.Before(now)
}

// CheckReserve applies the reservation rules without mutating the item.
// Unavailable (withdrawn) items are reported as not found.
func (it Item) CheckReserve(qty int, now time.Time) error {
	if qty <= 0 {
		return Validation("quantity for item %s must be positive", it.ID)
	}
	if !it.Available {
		return ItemNotFound(it.ID)
	}
	if it.Expired(now) {
		return ItemExpired(it.ID)
	}
	if it.Stock < qty {
		return InsufficientStock(it.ID, qty, it.Stock)
	}
	return nil
}

// Line is one order line. PriceCents is the unit price captured at reservation.
type Line struct {
	ItemID     string `json:"item_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

func (l Line) SubtotalCents() int64 { return int64(l.Qty) * l.PriceCents }

type LineInput struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type Order struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	Lines        []Line    `json:"lines"`
	WaiterID     string    `json:"waiter_id,omitempty"`
	CashierID    string    `json:"cashier_id,omitempty"`
	TotalCents   int64     `json:"total_cents"`
	Status       Status    `json:"status"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func TotalOf(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.SubtotalCents()
	}
	return total
}

// Clone returns a copy that shares no line storage with o.
func (o Order) Clone() Order {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}

// ItemIDs returns the distinct item ids referenced by the lines, in line order.
func (o Order) ItemIDs() []string {
	return distinctItems(o.Lines, func(l Line) string { return l.ItemID })
}

func distinctItems[T any](xs []T, id func(T) string) []string {
	seen := make(map[string]bool, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		k := id(x)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

type CreateOrderInput struct {
	CustomerName string      `json:"customer_name"`
	Lines        []LineInput `json:"lines"`
	WaiterID     string      `json:"waiter_id"`
	CashierID    string      `json:"cashier_id"`
}

type CreateItemInput struct {
	Name       string     `json:"name"`
	PriceCents int64      `json:"price_cents"`
	Stock      int        `json:"stock"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (in CreateItemInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return Validation("item name is required")
	}
	if in.PriceCents < 0 {
		return Validation("price must not be negative")
	}
	if in.Stock < 0 {
		return Validation("stock must not be negative")
	}
	return nil
}

// UpdateItemInput changes catalogue fields. Nil fields are left as they are.
// Stock is accepted only to be rejected: it moves through orders alone.
type UpdateItemInput struct {
	Name        *string    `json:"name,omitempty"`
	PriceCents  *int64     `json:"price_cents,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
	Stock       *int       `json:"stock,omitempty"`
}

func (in UpdateItemInput) Validate() error {
	if in.Stock != nil {
		return Validation("stock cannot be edited; it changes only through orders")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return Validation("item name must not be empty")
	}
	if in.PriceCents != nil && *in.PriceCents < 0 {
		return Validation("price must not be negative")
	}
	if in.ExpiresAt != nil && in.ClearExpiry {
		return Validation("expires_at and clear_expiry are mutually exclusive")
	}
	if in.Name == nil && in.PriceCents == nil && in.ExpiresAt == nil && !in.ClearExpiry {
		return Validation("nothing to update")
	}
	return nil
}

// Apply writes the set fields onto it.
func (in UpdateItemInput) Apply(it *Item) {
	if in.Name != nil {
		it.Name = strings.TrimSpace(*in.Name)
	}
	if in.PriceCents != nil {
		it.PriceCents = *in.PriceCents
	}
	switch {
	case in.ExpiresAt != nil:
		t := in.ExpiresAt.UTC()
		it.ExpiresAt = &t
	case in.ClearExpiry:
		it.ExpiresAt = nil
	}
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return Validation("at least one line is required")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ItemID) == "" {
			return Validation("line %d: item id is required", i+1)
		}
		if l.Qty <= 0 {
			return Validation("line %d: quantity for item %s must be positive", i+1, l.ItemID)
		}
	}
	return nil
}

func lineItemIDs(lines []LineInput) []string {
	return distinctItems(lines, func(l LineInput) string { return l.ItemID })
}

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	Status       Status
	CustomerName string
	WaiterID     string
	CashierID    string
	CreatedFrom  time.Time
	CreatedTo    time.Time
}

func (f OrderFilter) Match(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CustomerName != "" && !strings.Contains(strings.ToLower(o.CustomerName), strings.ToLower(f.CustomerName)) {
		return false
	}
	if f.WaiterID != "" && o.WaiterID != f.WaiterID {
		return false
	}
	if f.CashierID != "" && o.CashierID != f.CashierID {
		return false
	}
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !o.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

type Page struct {
	Page  int
	Limit int
}

// Normalize fills defaults and clamps the limit.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

type Summary struct {
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Orders       int            `json:"orders"`
	RevenueCents int64          `json:"revenue_cents"`
	Units        map[string]int `json:"units"`
}

// Add folds a completed order into the summary.
func (s *Summary) Add(o Order) {
	if s.Units == nil {
		s.Units = map[string]int{}
	}
	s.Orders++
	s.RevenueCents += o.TotalCents
	for _, l := range o.Lines {
		s.Units[l.ItemID] += l.Qty
	}
}
