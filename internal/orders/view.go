package orders

import (
	"context"

	"go.uber.org/zap"
)

// View is an order with display names filled in. Names are looked up after
// the fact and never feed back into mutations.
type View struct {
	Order
	WaiterName  string            `json:"waiter_name,omitempty"`
	CashierName string            `json:"cashier_name,omitempty"`
	ItemNames   map[string]string `json:"item_names,omitempty"`
}

type Resolver struct {
	Users Directory
	Items Inventory
	Log   *zap.Logger
}

// Resolve attaches names to each order. Lookup failures leave names empty.
func (r Resolver) Resolve(ctx context.Context, os []Order) []View {
	userIDs := make([]string, 0, 2*len(os))
	var itemIDs []string
	for _, o := range os {
		if o.WaiterID != "" {
			userIDs = append(userIDs, o.WaiterID)
		}
		if o.CashierID != "" {
			userIDs = append(userIDs, o.CashierID)
		}
		itemIDs = append(itemIDs, o.ItemIDs()...)
	}

	users, err := r.Users.UserNames(ctx, userIDs)
	if err != nil {
		r.logger().Warn("resolve user names", zap.Error(err))
	}
	items, err := r.Items.ItemNames(ctx, itemIDs)
	if err != nil {
		r.logger().Warn("resolve item names", zap.Error(err))
	}

	out := make([]View, 0, len(os))
	for _, o := range os {
		v := View{Order: o, WaiterName: users[o.WaiterID], CashierName: users[o.CashierID]}
		if len(o.Lines) > 0 {
			v.ItemNames = make(map[string]string, len(o.Lines))
			for _, l := range o.Lines {
				if n, ok := items[l.ItemID]; ok {
					v.ItemNames[l.ItemID] = n
				}
			}
		}
		out = append(out, v)
	}
	return out
}

func (r Resolver) One(ctx context.Context, o Order) View {
	return r.Resolve(ctx, []Order{o})[0]
}

func (r Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
