package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

type env struct {
	srv   http.Handler
	store *memstore.Store
	mr    *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memstore.New(memstore.WithLockTimeout(200 * time.Millisecond))
	store.SetUser("w1", "Wendy")
	cache := redisx.ViewCache{R: rdb}
	engine := orders.NewEngine(store, orders.WithEvents(orders.FanOut(cache)))

	r := NewRouter(nil, metrics.New(), time.Second)
	h := &OrdersHandler{Engine: engine, Cache: cache, Idem: redisx.Idempotency{R: rdb}}
	h.Register(r)

	ctx := context.Background()
	require.NoError(t, store.CreateItem(ctx, orders.Item{ID: "x", Name: "Latte", PriceCents: 350, Stock: 5, Available: true}))
	require.NoError(t, store.CreateItem(ctx, orders.Item{ID: "y", Name: "Bagel", PriceCents: 200, Stock: 1, Available: true}))
	return &env{srv: r, store: store, mr: mr}
}

func (e *env) do(t *testing.T, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *env) stock(t *testing.T, id string) int {
	it, err := e.store.Peek(context.Background(), id)
	require.NoError(t, err)
	return it.Stock
}

func createBody(lines ...orders.LineInput) map[string]any {
	return map[string]any{"customer_name": "Ann", "waiter_id": "w1", "lines": lines}
}

func TestCreateAndGetOrder(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "x", Qty: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[orders.View](t, rec)
	assert.Equal(t, orders.StatusPending, v.Status)
	assert.Equal(t, int64(700), v.TotalCents)
	assert.Equal(t, "Wendy", v.WaiterName)
	assert.Equal(t, "Latte", v.ItemNames["x"])
	assert.Equal(t, 3, e.stock(t, "x"))

	rec = e.do(t, http.MethodGet, "/orders/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	rec = e.do(t, http.MethodGet, "/orders/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, v.ID, decode[orders.View](t, rec).ID)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "y", Qty: 2}))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, orders.KindInsufficientStock, body.Kind)
	assert.Equal(t, "y", body.ID)

	rec = e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "nope", Qty: 1}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/orders", createBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = e.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryableErrorsSetRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, orders.Timeout("order o1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	writeError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[errorBody](t, rec).Error)
}

func TestUpdateCompleteCancel(t *testing.T) {
	e := newEnv(t)
	v := decode[orders.View](t, e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "x", Qty: 1})))

	// warm the cache, then make sure the update evicts it
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/orders/"+v.ID, nil).Code)

	rec := e.do(t, http.MethodPatch, "/orders/"+v.ID, map[string]any{"lines": []orders.LineInput{{ItemID: "x", Qty: 4}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, e.stock(t, "x"))

	rec = e.do(t, http.MethodGet, "/orders/"+v.ID, nil)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.Equal(t, int64(1400), decode[orders.View](t, rec).TotalCents)

	rec = e.do(t, http.MethodPatch, "/orders/"+v.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, decode[orders.View](t, rec).Status)
	assert.Equal(t, 5, e.stock(t, "x"))

	rec = e.do(t, http.MethodPatch, "/orders/"+v.ID+"/complete", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orders.KindInvalidState, decode[errorBody](t, rec).Kind)
}

func TestIdempotentCreate(t *testing.T) {
	e := newEnv(t)
	body := createBody(orders.LineInput{ItemID: "x", Qty: 1})

	first := e.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	again := e.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusOK, again.Code)

	assert.Equal(t, decode[orders.View](t, first).ID, decode[orders.View](t, again).ID)
	assert.Equal(t, 4, e.stock(t, "x"), "replay must not reserve again")

	// failed creates release the key
	bad := createBody(orders.LineInput{ItemID: "y", Qty: 9})
	require.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/orders", bad, HeaderIdempotencyKey, "k2").Code)
	assert.False(t, e.mr.Exists("idem:order:create:k2"))

	require.NoError(t, e.mr.Set("idem:order:create:busy", "pending"))
	rec := e.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orders.KindConflict, decode[errorBody](t, rec).Kind)
}

func TestConcurrentCreatesDoNotOversell(t *testing.T) {
	e := newEnv(t)
	var wg sync.WaitGroup
	codes := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "y", Qty: 1})).Code
		}()
	}
	wg.Wait()
	close(codes)

	created := 0
	for c := range codes {
		if c == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, e.stock(t, "y"))
}

func TestListOrdersAndSales(t *testing.T) {
	e := newEnv(t)
	a := decode[orders.View](t, e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "x", Qty: 2})))
	decode[orders.View](t, e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "y", Qty: 1})))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPatch, "/orders/"+a.ID+"/complete", nil).Code)

	rec := e.do(t, http.MethodGet, "/orders?status=completed&customer=an", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResp[orders.View]](t, rec)
	require.Len(t, list.Data, 1)
	assert.Equal(t, a.ID, list.Data[0].ID)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, orders.DefaultPageLimit, list.Limit)

	rec = e.do(t, http.MethodGet, "/orders?limit=1&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResp[orders.View]](t, rec).Data, 1)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/orders?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/orders?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/orders?page=0", nil).Code)

	rec = e.do(t, http.MethodGet, "/orders/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[orders.Summary](t, rec)
	assert.Equal(t, 1, sum.Orders)
	assert.Equal(t, int64(700), sum.RevenueCents)
	assert.Equal(t, 2, sum.Units["x"])

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/orders/sales?from=2026-01-02&to=2026-01-01", nil).Code)
}

func TestItemsEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/items", map[string]any{"name": "Croissant", "price_cents": 275, "stock": 8})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	it := decode[orders.Item](t, rec)
	assert.True(t, it.Available)

	rec = e.do(t, http.MethodGet, "/items/"+it.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Croissant", decode[orders.Item](t, rec).Name)

	rec = e.do(t, http.MethodGet, "/items?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResp[orders.Item]](t, rec).Data, 2)

	rec = e.do(t, http.MethodDelete, "/items/"+it.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[orders.Item](t, rec).Available)

	rec = e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: it.ID, Qty: 1}))
	assert.Equal(t, http.StatusNotFound, rec.Code, "disabled items cannot be reserved")

	rec = e.do(t, http.MethodPost, "/items", map[string]any{"name": "", "price_cents": 1, "stock": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateItemKeepsPlacedOrderPrices(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/orders", createBody(orders.LineInput{ItemID: "x", Qty: 2}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[orders.View](t, rec)

	rec = e.do(t, http.MethodPatch, "/items/x", map[string]any{"price_cents": 500, "name": "Flat White"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	it := decode[orders.Item](t, rec)
	assert.Equal(t, int64(500), it.PriceCents)
	assert.Equal(t, "Flat White", it.Name)
	assert.Equal(t, 3, it.Stock)

	rec = e.do(t, http.MethodGet, "/orders/"+placed.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[orders.View](t, rec)
	assert.Equal(t, int64(350), got.Lines[0].PriceCents)
	assert.Equal(t, int64(700), got.TotalCents)

	rec = e.do(t, http.MethodPatch, "/items/x", map[string]any{"stock": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPatch, "/items/missing", map[string]any{"price_cents": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 3, e.stock(t, "x"))
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
