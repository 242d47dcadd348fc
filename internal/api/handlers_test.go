package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/auth"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/bookview"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/exchange"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/memdb"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/settlement"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type testServer struct {
	srv   *httptest.Server
	store *memdb.Store
}

// newTestServer wires the full stack the way cmd/server does, on the
// in-memory store.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memdb.New()
	store.SetFeeSchedule(models.FeeSchedule{
		MakerRatePct: dec("0.1"),
		TakerRatePct: dec("0.2"),
	})

	coord := settlement.NewCoordinator(store, store, 999, nil)
	engine := exchange.NewEngine(store, store, store, coord, nil)
	view := bookview.New(engine, store, bookview.NewMapCache(), nil)
	engine.OnTrade(func(models.Trade) { view.Invalidate(context.Background()) })
	authSvc := auth.NewAuthService(store, "test-secret", time.Hour)
	h := NewHandler(engine, store, view, authSvc, nil)

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		out = nil
	}
	return resp, out
}

// signup registers and logs a user in, funds the wallet, and returns the
// bearer token and user id.
func (ts *testServer) signup(t *testing.T, username, quote, base string) (string, int64) {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	userID := int64(body["id"].(float64))

	resp, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)

	require.NoError(t, ts.store.Deposit(context.Background(), userID, dec(quote), dec(base)))
	return token, userID
}

func TestPlaceOrderAndMatchOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	seller, _ := ts.signup(t, "seller", "0", "100")
	buyer, _ := ts.signup(t, "buyer", "1000", "0")

	resp, body := ts.do(t, http.MethodPost, "/orders", seller, map[string]string{
		"side": "sell", "type": "limit", "amount": "10", "price": "1.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	resp, body = ts.do(t, http.MethodPost, "/orders", buyer, map[string]string{
		"side": "buy", "type": "limit", "amount": "10", "price": "1.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "filled", body["status"])
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	trade := trades[0].(map[string]any)
	assert.Equal(t, "10", trade["amount"])
	assert.Equal(t, "1", trade["price"])
}

func TestPlaceOrderValidation(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup(t, "trader", "100", "100")

	cases := []map[string]string{
		{"side": "hold", "type": "limit", "amount": "1", "price": "1"},
		{"side": "buy", "type": "stop", "amount": "1", "price": "1"},
		{"side": "buy", "type": "limit", "amount": "0", "price": "1"},
		{"side": "buy", "type": "limit", "amount": "1", "price": "-1"},
		{"side": "buy", "type": "limit", "amount": "banana", "price": "1"},
	}
	for _, c := range cases {
		resp, _ := ts.do(t, http.MethodPost, "/orders", token, c)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %v", c)
	}
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup(t, "pauper", "5", "0")

	resp, body := ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "buy", "type": "limit", "amount": "10", "price": "1.00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient balance", body["error"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/orders", "/wallet"} {
		resp, _ := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp, _ := ts.do(t, http.MethodGet, "/orders", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t)
	owner, _ := ts.signup(t, "owner", "1000", "0")
	other, _ := ts.signup(t, "other", "1000", "0")

	_, body := ts.do(t, http.MethodPost, "/orders", owner, map[string]string{
		"side": "buy", "type": "limit", "amount": "10", "price": "0.90",
	})
	orderID := int64(body["order_id"].(float64))
	path := fmt.Sprintf("/orders/%d", orderID)

	// Another user cannot cancel, and must not learn the order exists.
	resp, _ := ts.do(t, http.MethodDelete, path, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, path, owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	// Cancelling again conflicts with the terminal state.
	resp, _ = ts.do(t, http.MethodDelete, path, owner, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/orders/999999", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrderDetail(t *testing.T) {
	ts := newTestServer(t)
	seller, _ := ts.signup(t, "seller", "0", "100")
	buyer, _ := ts.signup(t, "buyer", "1000", "0")

	ts.do(t, http.MethodPost, "/orders", seller, map[string]string{
		"side": "sell", "type": "limit", "amount": "4", "price": "1.00",
	})
	_, body := ts.do(t, http.MethodPost, "/orders", buyer, map[string]string{
		"side": "buy", "type": "limit", "amount": "10", "price": "1.00",
	})
	orderID := int64(body["order_id"].(float64))
	path := fmt.Sprintf("/orders/%d", orderID)

	resp, body := ts.do(t, http.MethodGet, path, buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "partially_filled", order["status"])
	assert.Equal(t, "1", body["average_fill_price"])
	assert.Equal(t, "40", body["fill_percentage"])
	assert.Len(t, body["trades"].([]any), 1)

	// Other users get a 404, not a 403.
	resp, _ = ts.do(t, http.MethodGet, path, seller, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderBookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup(t, "maker", "1000", "100")

	ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "buy", "type": "limit", "amount": "5", "price": "0.95",
	})
	ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "buy", "type": "limit", "amount": "5", "price": "0.90",
	})
	ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "sell", "type": "limit", "amount": "5", "price": "1.05",
	})

	resp, body := ts.do(t, http.MethodGet, "/orderbook", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bids := body["bids"].([]any)
	require.Len(t, bids, 2)
	best := bids[0].(map[string]any)
	assert.Equal(t, "0.95", best["price"], "best bid first")
	assert.NotContains(t, best, "user_id", "book entries hide owners")
	assert.Len(t, body["asks"].([]any), 1)

	resp, body = ts.do(t, http.MethodGet, "/orderbook?depth=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bids"].([]any), 1)

	resp, _ = ts.do(t, http.MethodGet, "/orderbook?depth=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecentTradesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seller, _ := ts.signup(t, "seller", "0", "100")
	buyer, _ := ts.signup(t, "buyer", "1000", "0")

	ts.do(t, http.MethodPost, "/orders", seller, map[string]string{
		"side": "sell", "type": "limit", "amount": "3", "price": "1.00",
	})
	ts.do(t, http.MethodPost, "/orders", buyer, map[string]string{
		"side": "buy", "type": "market", "amount": "3",
	})

	resp, _ := ts.do(t, http.MethodGet, "/trades", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/trades", nil)
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var trades []map[string]any
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "1", trades[0]["price"])
}

func TestWalletEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup(t, "trader", "250.5", "3")

	resp, body := ts.do(t, http.MethodGet, "/wallet", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "250.5", body["quote_balance"])
	assert.Equal(t, "3", body["base_balance"])
}

func TestUserOrdersEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.signup(t, "trader", "1000", "0")

	ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "buy", "type": "limit", "amount": "1", "price": "0.90",
	})
	ts.do(t, http.MethodPost, "/orders", token, map[string]string{
		"side": "buy", "type": "limit", "amount": "1", "price": "0.95",
	})

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, http.StatusOK, raw.StatusCode)

	var orders []map[string]any
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&orders))
	require.Len(t, orders, 2)
	assert.Equal(t, "0.95", orders[0]["price"], "newest first")
}
