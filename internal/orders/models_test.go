package orders

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	for _, from := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		for _, to := range []Status{StatusPending, StatusCompleted, StatusCancelled, StatusExpired} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, Status("paid").Valid())
}

func TestCheckReserve(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	tests := []struct {
		name string
		item Item
		qty  int
		want error
	}{
		{"ok", Item{ID: "x", Stock: 5, Available: true}, 5, nil},
		{"future expiry ok", Item{ID: "x", Stock: 5, Available: true, ExpiresAt: &future}, 1, nil},
		{"short", Item{ID: "x", Stock: 4, Available: true}, 5, ErrInsufficientStock},
		{"expired", Item{ID: "x", Stock: 5, Available: true, ExpiresAt: &past}, 1, ErrExpired},
		{"withdrawn", Item{ID: "x", Stock: 5}, 1, ErrNotFound},
		{"zero qty", Item{ID: "x", Stock: 5, Available: true}, 0, ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.item.CheckReserve(tc.qty, now)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("create: %w", InsufficientStock("x", 7, 6))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Contains(t, err.Error(), "requested 7, available 6")
	assert.False(t, Retryable(err))

	assert.True(t, Retryable(Timeout("locks")))
	assert.True(t, Retryable(Conflict("version")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: MaxPageLimit}, Page{Page: 3, Limit: 10_000}.Normalize())
	assert.Equal(t, 20, Page{Page: 3, Limit: 10}.Offset())
}

func TestOrderFilterMatch(t *testing.T) {
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	o := Order{CustomerName: "Alice Smith", Status: StatusPending, WaiterID: "w1", CreatedAt: at}

	assert.True(t, OrderFilter{}.Match(o))
	assert.True(t, OrderFilter{CustomerName: "smith", WaiterID: "w1"}.Match(o))
	assert.False(t, OrderFilter{Status: StatusCompleted}.Match(o))
	assert.False(t, OrderFilter{CashierID: "c9"}.Match(o))
	assert.True(t, OrderFilter{CreatedFrom: at, CreatedTo: at.Add(time.Second)}.Match(o))
	assert.False(t, OrderFilter{CreatedTo: at}.Match(o))
}

func TestUpdateItemInput(t *testing.T) {
	name, price := " Mocha ", int64(500)
	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, UpdateItemInput{}.Validate(), ErrValidation)
	empty := ""
	assert.ErrorIs(t, UpdateItemInput{Name: &empty}.Validate(), ErrValidation)
	neg := int64(-1)
	assert.ErrorIs(t, UpdateItemInput{PriceCents: &neg}.Validate(), ErrValidation)
	assert.ErrorIs(t, UpdateItemInput{ExpiresAt: &exp, ClearExpiry: true}.Validate(), ErrValidation)

	in := UpdateItemInput{Name: &name, PriceCents: &price, ExpiresAt: &exp}
	assert.NoError(t, in.Validate())
	it := Item{Name: "Latte", PriceCents: 350, Stock: 4}
	in.Apply(&it)
	assert.Equal(t, "Mocha", it.Name)
	assert.Equal(t, price, it.PriceCents)
	assert.True(t, exp.Equal(*it.ExpiresAt))
	assert.Equal(t, 4, it.Stock)

	UpdateItemInput{ClearExpiry: true}.Apply(&it)
	assert.Nil(t, it.ExpiresAt)
}

func TestOrderHelpers(t *testing.T) {
	o := Order{Lines: []Line{{ItemID: "a", Qty: 2, PriceCents: 150}, {ItemID: "b", Qty: 1, PriceCents: 99}, {ItemID: "a", Qty: 1, PriceCents: 150}}}
	assert.Equal(t, int64(549), TotalOf(o.Lines))
	assert.Equal(t, []string{"a", "b"}, o.ItemIDs())

	c := o.Clone()
	c.Lines[0].Qty = 9
	assert.Equal(t, 2, o.Lines[0].Qty)
}
