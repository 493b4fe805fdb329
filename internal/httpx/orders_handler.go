package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

// Service is the engine surface the handlers need.
type Service interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.View, error)
	UpdateOrder(ctx context.Context, orderID string, lines []orders.LineInput) (orders.View, error)
	MarkComplete(ctx context.Context, orderID string) (orders.View, error)
	CancelOrder(ctx context.Context, orderID string) (orders.View, error)
	GetOrder(ctx context.Context, orderID string) (orders.View, error)
	ListOrders(ctx context.Context, f orders.OrderFilter, p orders.Page) ([]orders.View, error)
	SalesSummary(ctx context.Context, from, to time.Time) (orders.Summary, error)

	CreateItem(ctx context.Context, in orders.CreateItemInput) (orders.Item, error)
	GetItem(ctx context.Context, id string) (orders.Item, error)
	ListItems(ctx context.Context, p orders.Page) ([]orders.Item, error)
	DisableItem(ctx context.Context, id string) (orders.Item, error)
	UpdateItem(ctx context.Context, id string, in orders.UpdateItemInput) (orders.Item, error)
}

type ViewCache interface {
	Get(ctx context.Context, orderID string) (orders.View, bool, error)
	Put(ctx context.Context, v orders.View) error
}

type Idempotency interface {
	Begin(ctx context.Context, key string) (string, error)
	Finish(ctx context.Context, key, orderID string) error
	Abandon(ctx context.Context, key string) error
}

const HeaderIdempotencyKey = "Idempotency-Key"

// OrdersHandler serves orders and the item catalogue. Cache and Idem are
// optional.
type OrdersHandler struct {
	Engine  Service
	Cache   ViewCache
	Idem    Idempotency
	Log     *zap.Logger
	Timeout time.Duration
	Now     func() time.Time
}

type createOrderReq struct {
	CustomerName string             `json:"customer_name"`
	Lines        []orders.LineInput `json:"lines"`
	WaiterID     string             `json:"waiter_id"`
	CashierID    string             `json:"cashier_id"`
}

type updateOrderReq struct {
	Lines []orders.LineInput `json:"lines"`
}

type listResp[T any] struct {
	Data  []T `json:"data"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/sales", h.salesSummary)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.updateOrder)
		r.Patch("/{id}/complete", h.completeOrder)
		r.Patch("/{id}/cancel", h.cancelOrder)
	})
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.createItem)
		r.Get("/", h.listItems)
		r.Get("/{id}", h.getItem)
		r.Patch("/{id}", h.updateItem)
		r.Delete("/{id}", h.disableItem)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	t := h.Timeout
	if t <= 0 {
		t = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), t)
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.Idem != nil {
		prev, err := h.Idem.Begin(ctx, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: orders.KindConflict})
			return
		case err != nil:
			// Redis is a fast path only; carry on without it.
			h.logger().Warn("idempotency begin", zap.String("key", key), zap.Error(err))
			key = ""
		case prev != "":
			v, err := h.Engine.GetOrder(ctx, prev)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}
	} else {
		key = ""
	}

	v, err := h.Engine.CreateOrder(ctx, orders.CreateOrderInput(req))
	if err != nil {
		if key != "" {
			if aerr := h.Idem.Abandon(context.WithoutCancel(ctx), key); aerr != nil {
				h.logger().Warn("idempotency abandon", zap.String("key", key), zap.Error(aerr))
			}
		}
		writeError(w, err)
		return
	}
	if key != "" {
		if ferr := h.Idem.Finish(ctx, key, v.ID); ferr != nil {
			h.logger().Warn("idempotency finish", zap.String("key", key), zap.Error(ferr))
		}
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Engine.UpdateOrder(ctx, chi.URLParam(r, "id"), req.Lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.MarkComplete)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.CancelOrder)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (orders.View, error)) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := op(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	if h.Cache != nil {
		if v, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	v, err := h.Engine.GetOrder(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, v); err != nil {
			h.logger().Debug("cache order view", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.OrderFilter{
		Status:       orders.Status(q.Get("status")),
		CustomerName: q.Get("customer"),
		WaiterID:     q.Get("waiter_id"),
		CashierID:    q.Get("cashier_id"),
	}
	var err error
	if f.CreatedFrom, err = parseTime(q.Get("from")); err != nil {
		badRequest(w, "from: "+err.Error())
		return
	}
	if f.CreatedTo, err = parseTime(q.Get("to")); err != nil {
		badRequest(w, "to: "+err.Error())
		return
	}
	p, err := parsePage(q.Get("page"), q.Get("limit"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	vs, err := h.Engine.ListOrders(ctx, f, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp[orders.View]{Data: vs, Page: p.Page, Limit: p.Limit})
}

// salesSummary defaults to the current UTC day.
func (h *OrdersHandler) salesSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	t := now().UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		v, err := parseTime(s)
		if err != nil {
			badRequest(w, "from: "+err.Error())
			return
		}
		from = v
	}
	if s := q.Get("to"); s != "" {
		v, err := parseTime(s)
		if err != nil {
			badRequest(w, "to: "+err.Error())
			return
		}
		to = v
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	sum, err := h.Engine.SalesSummary(ctx, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *OrdersHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateItemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	it, err := h.Engine.CreateItem(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *OrdersHandler) getItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	it, err := h.Engine.GetItem(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) listItems(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	its, err := h.Engine.ListItems(ctx, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp[orders.Item]{Data: its, Page: p.Page, Limit: p.Limit})
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var in orders.UpdateItemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	it, err := h.Engine.UpdateItem(ctx, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) disableItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	it, err := h.Engine.DisableItem(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// parseTime accepts RFC 3339 or a bare date. Empty means unset.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.New("want RFC 3339 timestamp or YYYY-MM-DD")
	}
	return t, nil
}

func parsePage(page, limit string) (orders.Page, error) {
	var p orders.Page
	var err error
	if page != "" {
		if p.Page, err = strconv.Atoi(page); err != nil || p.Page < 1 {
			return p, errors.New("page must be a positive integer")
		}
	}
	if limit != "" {
		if p.Limit, err = strconv.Atoi(limit); err != nil || p.Limit < 1 {
			return p, errors.New("limit must be a positive integer")
		}
	}
	return p.Normalize(), nil
}
