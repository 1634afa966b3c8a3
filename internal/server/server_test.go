package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradewind/settlement/internal/config"
	"github.com/tradewind/settlement/internal/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:                   "0",
		Env:                    "development",
		LogLevel:               "error",
		PlatformFeeBps:         520,
		MinPayoutAmount:        500000,
		AdjustmentReasonMinLen: 10,
		RequireDeliveryProof:   true,
	}
	srv, err := New(cfg, WithLogger(logging.New("error", "text")))
	require.NoError(t, err)
	return srv
}

// do issues a request with the gateway's actor assertion headers set.
func do(t *testing.T, srv *Server, method, path string, body any, actorID, role string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
		req.Header.Set("X-Actor-Role", role)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/healthz", nil, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/metrics", nil, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}

func TestActorMiddlewareRejectsUnknownRole(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": "b1", "supplierId": "s1", "totalAmount": 100,
	}, "b1", "SUPERUSER")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnonymousRequestHoldsNoCapability(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": "b1", "supplierId": "s1", "totalAmount": 100,
	}, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// Movement endpoints take minor units or a quoted decimal string.
func TestDepositAcceptsDecimalStringAmount(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/wallets", map[string]any{"accountId": "acct1"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusCreated, w.Code)
	walletID := decode(t, w)["wallet"].(map[string]any)["id"].(string)

	w = do(t, srv, http.MethodPost, "/api/v1/wallets/"+walletID+"/deposit",
		map[string]any{"amount": "25.00", "reason": "card payment"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/wallets/"+walletID, nil, "fin1", "FINANCE")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2500), decode(t, w)["wallet"].(map[string]any)["balance"])

	// Malformed decimals are rejected before any money moves.
	w = do(t, srv, http.MethodPost, "/api/v1/wallets/"+walletID+"/deposit",
		map[string]any{"amount": "25.001", "reason": "card payment"}, "fin1", "FINANCE")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// Full settlement path over HTTP: wallets, order lifecycle, escrow lock,
// delivery confirmation, release, and the audit trail left behind.
func TestSettlementFlowEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	// Wallets for buyer and supplier.
	w := do(t, srv, http.MethodPost, "/api/v1/wallets", map[string]any{"accountId": "buyer1"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusCreated, w.Code)
	buyerWallet := decode(t, w)["wallet"].(map[string]any)["id"].(string)

	w = do(t, srv, http.MethodPost, "/api/v1/wallets", map[string]any{"accountId": "sup1"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusCreated, w.Code)
	supplierWallet := decode(t, w)["wallet"].(map[string]any)["id"].(string)

	// Buyer places an order.
	w = do(t, srv, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": "buyer1", "supplierId": "sup1", "totalAmount": 10000,
	}, "buyer1", "BUYER")
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["order"].(map[string]any)["id"].(string)

	// Payment confirmed by finance; escrow locks against the order.
	w = do(t, srv, http.MethodPost, "/api/v1/orders/"+orderID+"/transition",
		map[string]any{"to": "PAID"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/escrows", map[string]any{
		"orderId": orderID, "buyerWalletId": buyerWallet,
		"beneficiaryWalletId": supplierWallet, "totalAmount": 10000,
	}, "fin1", "FINANCE")
	require.Equal(t, http.StatusCreated, w.Code)
	escrowBody := decode(t, w)["escrow"].(map[string]any)
	escrowID := escrowBody["id"].(string)
	assert.Equal(t, "LOCKED", escrowBody["status"])
	assert.Equal(t, float64(520), escrowBody["platformFeeAmount"])

	// Release before delivery confirmation is rejected.
	w = do(t, srv, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", nil, "fin1", "FINANCE")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Fulfilment and shipping.
	for _, step := range []struct {
		to, actorID, role string
	}{
		{"PROCESSING", "sup1", "SUPPLIER"},
		{"SHIPPED", "sup1", "SUPPLIER"},
		{"IN_TRANSIT", "ops1", "OPS"},
		{"DELIVERED", "ops1", "OPS"},
	} {
		w = do(t, srv, http.MethodPost, "/api/v1/orders/"+orderID+"/transition",
			map[string]any{"to": step.to}, step.actorID, step.role)
		require.Equal(t, http.StatusOK, w.Code, "transition to %s", step.to)
	}

	// Buyer confirms delivery.
	w = do(t, srv, http.MethodPost, "/api/v1/orders/"+orderID+"/confirm-delivery", nil, "buyer1", "BUYER")
	require.Equal(t, http.StatusOK, w.Code)

	// Supplier cannot release their own escrow.
	w = do(t, srv, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", nil, "sup1", "SUPPLIER")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Finance releases; supplier is credited net of the platform fee.
	w = do(t, srv, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release",
		map[string]any{"note": "delivery confirmed"}, "fin1", "FINANCE")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RELEASED", decode(t, w)["escrow"].(map[string]any)["status"])

	w = do(t, srv, http.MethodGet, "/api/v1/wallets/"+supplierWallet, nil, "fin1", "FINANCE")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(9480), decode(t, w)["wallet"].(map[string]any)["balance"])

	// A second release cannot double-pay.
	w = do(t, srv, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", nil, "fin1", "FINANCE")
	assert.Equal(t, http.StatusConflict, w.Code)

	// The audit trail is queryable by ops but not by the buyer.
	w = do(t, srv, http.MethodGet, "/api/v1/admin/audit?targetType=ESCROW", nil, "ops1", "OPS")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, decode(t, w)["count"].(float64), float64(0))

	w = do(t, srv, http.MethodGet, "/api/v1/admin/audit", nil, "buyer1", "BUYER")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
