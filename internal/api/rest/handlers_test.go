package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/cache"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/config"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/history"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
	"github.com/davidleathers/fraud-signal-service/internal/testutil/fixtures"
)

type recordingPublisher struct {
	mu     sync.Mutex
	scored []*fraud.ScoreResponse
	names  []string
}

func (p *recordingPublisher) PublishScored(_ context.Context, req *transaction.Request, resp *fraud.ScoreResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scored = append(p.scored, resp)
	p.names = append(p.names, req.CustomerName)
}

type fakeBlacklist struct {
	set *cache.IPSet
	err error
}

func (f *fakeBlacklist) Add(_ context.Context, ips ...string) error {
	if f.err != nil {
		return f.err
	}
	f.set.Replace(append(f.set.Members(), ips...))
	return nil
}

func (f *fakeBlacklist) Members() []string {
	return f.set.Members()
}

type panickingService struct{}

func (panickingService) ScoreTransaction(context.Context, *transaction.Request) *fraud.ScoreResponse {
	panic("evaluator defect")
}

func (panickingService) CustomerHistory(context.Context, string) []transaction.Record {
	return nil
}

type testEnv struct {
	router    *Router
	store     *history.Store
	publisher *recordingPublisher
}

func setupRouter(t *testing.T, mutate func(*RouterConfig)) *testEnv {
	t.Helper()

	store := history.NewStore()
	blacklist := cache.NewIPSet(fraud.DefaultBlacklistedIPs...)
	publisher := &recordingPublisher{}

	cfg := RouterConfig{
		Service:      fraud.NewService(store, blacklist),
		Publisher:    publisher,
		RateLimit:    config.RateLimitConfig{Enabled: false},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &testEnv{router: NewRouter(cfg), store: store, publisher: publisher}
}

func jsonBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// requestPayload renders a request as a generic map so tests can break it
func requestPayload(t *testing.T, req *transaction.Request) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonBody(t, req), &m))
	return m
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func decodeScore(t *testing.T, w *httptest.ResponseRecorder) fraud.ScoreResponse {
	t.Helper()
	var resp fraud.ScoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestScoreTransaction_LowRisk(t *testing.T) {
	env := setupRouter(t, nil)
	req := fixtures.NewTransactionRequestBuilder(t).Build()

	w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	resp := decodeScore(t, w)
	require.Len(t, resp.Signals, 4)
	kinds := make([]fraud.SignalKind, 0, 4)
	for _, s := range resp.Signals {
		kinds = append(kinds, s.Kind)
		assert.NotEmpty(t, s.Details, s.Kind)
	}
	assert.Equal(t, []fraud.SignalKind{
		fraud.SignalLocation, fraud.SignalIPAddress, fraud.SignalTransaction, fraud.SignalCardDetails,
	}, kinds)

	ip, _ := resp.Signal(fraud.SignalIPAddress)
	assert.False(t, ip.PotentialFraud)
	card, _ := resp.Signal(fraud.SignalCardDetails)
	assert.False(t, card.PotentialFraud)
	assert.Equal(t, 1, env.store.Stats().Records)
}

func TestScoreTransaction_WireFormat(t *testing.T) {
	env := setupRouter(t, nil)
	req := fixtures.NewTransactionRequestBuilder(t).WithIP("192.168.1.100").Build()

	w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))
	require.Equal(t, http.StatusOK, w.Code)

	var raw struct {
		Signals []map[string]interface{} `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Signals, 4)
	assert.Equal(t, "ipAddress", raw.Signals[1]["signal"])
	assert.Equal(t, true, raw.Signals[1]["potentialFraud"])
	assert.Contains(t, raw.Signals[1]["details"], "Flagged IP: 192.168.1.100")
}

func TestScoreTransaction_PublishesAfterScoring(t *testing.T) {
	env := setupRouter(t, nil)
	req := fixtures.NewTransactionRequestBuilder(t).WithCustomer("Jane Doe").Build()

	w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, env.publisher.scored, 1)
	assert.Equal(t, []string{"Jane Doe"}, env.publisher.names)
	assert.Len(t, env.publisher.scored[0].Signals, 4)
}

func TestScoreTransaction_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]interface{})
		message string
	}{
		{
			name:    "missing customer name",
			mutate:  func(m map[string]interface{}) { delete(m, "customerName") },
			message: "customerName: is required",
		},
		{
			name:    "blank ip address",
			mutate:  func(m map[string]interface{}) { m["ipAddress"] = "   " },
			message: "ipAddress: is required",
		},
		{
			name:    "missing location",
			mutate:  func(m map[string]interface{}) { delete(m, "location") },
			message: "location: is required",
		},
		{
			name: "blank city",
			mutate: func(m map[string]interface{}) {
				m["location"].(map[string]interface{})["city"] = ""
			},
			message: "location.city: is required",
		},
		{
			name: "zero amount",
			mutate: func(m map[string]interface{}) {
				m["paymentDetails"].(map[string]interface{})["cardAmount"] = 0
			},
			message: "paymentDetails.cardAmount: is required",
		},
		{
			name: "negative amount",
			mutate: func(m map[string]interface{}) {
				m["paymentDetails"].(map[string]interface{})["cardAmount"] = -5
			},
			message: "paymentDetails.cardAmount: must be greater than zero",
		},
		{
			name: "negative item count",
			mutate: func(m map[string]interface{}) {
				m["transactionDetails"].(map[string]interface{})["purchasedItemCount"] = -1
			},
			message: "transactionDetails.purchasedItemCount: must be greater than zero",
		},
		{
			name: "missing merchant location",
			mutate: func(m map[string]interface{}) {
				delete(m["transactionDetails"].(map[string]interface{}), "merchantLocation")
			},
			message: "transactionDetails.merchantLocation: is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, nil)
			payload := requestPayload(t, fixtures.NewTransactionRequestBuilder(t).Build())
			tt.mutate(payload)

			w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, payload))

			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, http.StatusBadRequest, body.Status)
			assert.Equal(t, "Validation Failed", body.Error)
			assert.Equal(t, "VALIDATION_FAILED", body.Code)
			assert.Equal(t, "/api/score-transaction", body.Path)
			assert.Contains(t, body.Messages, tt.message)
			assert.False(t, body.Timestamp.IsZero())

			assert.Zero(t, env.store.Stats().Records, "rejected requests are never recorded")
			assert.Empty(t, env.publisher.scored)
		})
	}
}

func TestScoreTransaction_MalformedRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{name: "broken json", body: `{"customerName": "John"`, contentType: "application/json"},
		{name: "not json", body: `customerName=John`, contentType: "application/json"},
		{name: "wrong type", body: `{"transactionDetails": {"purchasedItemCount": "three"}}`, contentType: "application/json"},
		{name: "empty body", body: ``, contentType: "application/json"},
		{name: "trailing document", body: `{} {}`, contentType: "application/json"},
		{name: "form content type", body: `{}`, contentType: "application/x-www-form-urlencoded"},
		{name: "missing content type", body: `{}`, contentType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/score-transaction", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, "Malformed JSON Request", body.Error)
			assert.Equal(t, []string{malformedJSONMessage}, body.Messages)
		})
	}
}

func TestScoreTransaction_BodyTooLarge(t *testing.T) {
	env := setupRouter(t, func(c *RouterConfig) { c.MaxBodyBytes = 64 })
	req := fixtures.NewTransactionRequestBuilder(t).WithMerchant(strings.Repeat("x", 256)).Build()

	w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "REQUEST_TOO_LARGE", body.Code)
}

func TestScoreTransaction_PanicBecomesInternalError(t *testing.T) {
	env := setupRouter(t, func(c *RouterConfig) { c.Service = panickingService{} })
	req := fixtures.NewTransactionRequestBuilder(t).Build()

	w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.NotContains(t, strings.Join(body.Messages, " "), "evaluator defect")
}

func TestCustomerHistory(t *testing.T) {
	env := setupRouter(t, nil)

	for i := 0; i < 2; i++ {
		req := fixtures.NewTransactionRequestBuilder(t).WithMerchantLocation("Denver", "CO").Build()
		w := env.do(t, http.MethodPost, "/api/score-transaction", jsonBody(t, req))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/customers/John%20Smith/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "John Smith", resp.CustomerName)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "Denver", resp.Transactions[0].City)
	assert.Equal(t, "CO", resp.Transactions[0].State)
	assert.Equal(t, "Corner Books", resp.Transactions[0].MerchantName)
}

func TestCustomerHistory_UnknownCustomerIsEmpty(t *testing.T) {
	env := setupRouter(t, nil)

	w := env.do(t, http.MethodGet, "/api/customers/Nobody/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"customerName":"Nobody","transactions":[]}`, w.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	env := setupRouter(t, nil)

	w := env.do(t, http.MethodGet, "/api/nothing-here", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body.Code)
	assert.Equal(t, "/api/nothing-here", body.Path)
}

func TestBlacklistAdmin(t *testing.T) {
	admin := &fakeBlacklist{set: cache.NewIPSet("10.0.0.50")}
	env := setupRouter(t, func(c *RouterConfig) { c.Blacklist = admin })

	w := env.do(t, http.MethodPost, "/api/blacklist", jsonBody(t, AddBlacklistRequest{IPs: []string{"203.0.113.9"}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BlacklistResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"10.0.0.50", "203.0.113.9"}, resp.IPs)

	w = env.do(t, http.MethodGet, "/api/blacklist", nil)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("rejects invalid addresses", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/blacklist", jsonBody(t, AddBlacklistRequest{IPs: []string{"not-an-ip"}}))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Messages, "ips[0]: must be a valid IP address")
	})

	t.Run("rejects empty list", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/blacklist", []byte(`{"ips":[]}`))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		admin.err = errors.New("connection refused")
		defer func() { admin.err = nil }()

		w := env.do(t, http.MethodPost, "/api/blacklist", jsonBody(t, AddBlacklistRequest{IPs: []string{"198.51.100.7"}}))
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "EXTERNAL_SERVICE_ERROR", decodeError(t, w).Code)
	})
}

func TestBlacklistRoutesAbsentWithoutAdmin(t *testing.T) {
	env := setupRouter(t, nil)

	w := env.do(t, http.MethodGet, "/api/blacklist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	env := setupRouter(t, nil)
	srv := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, env.router, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
