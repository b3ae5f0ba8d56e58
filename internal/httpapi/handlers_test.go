package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/feed"
	"stokku/backend/internal/gateway"
	"stokku/backend/internal/metrics"
	"stokku/backend/internal/service"
	"stokku/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	registry := prometheus.NewRegistry()
	svc := service.New(
		gateway.New(repo, feed.NewHub(), nil),
		backup.NewMemory(),
		metrics.New(registry),
		service.Options{SaveDebounce: 20 * time.Millisecond},
		nil,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", registry, nil)
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends an authenticated request carrying a fresh CSRF token.
func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "owner123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestProductAndSaleFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":  "Kopi",
		"price": "12000",
		"units": 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode product: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/clients", token, map[string]string{"name": "Bu Sari"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create client: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"product_id":  created.Product.ID,
		"quantity":    3,
		"unit_price":  "12000",
		"client_name": "Bu Sari",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"product_id": created.Product.ID,
		"quantity":   50,
		"unit_price": "12000",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/state", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", rec.Code)
	}
	var state struct {
		Document domain.Document `json:"document"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.Document.Sales) != 1 || len(state.Document.Clients) != 1 {
		t.Fatalf("expected one sale and one client, got %+v", state.Document.Counts())
	}
	if state.Document.Clients[0].TotalPurchases != 3 {
		t.Fatalf("expected client credited with 3 units, got %d", state.Document.Clients[0].TotalPurchases)
	}
	if state.Document.Products[0].Units != "7" {
		t.Fatalf("expected 7 units left, got %s", state.Document.Products[0].Units)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sync/save", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"synced"`) {
		t.Fatalf("expected synced status, got %s", rec.Body.String())
	}
}

func TestUnknownProductReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	rec := doJSON(t, api, http.MethodDelete, "/api/v1/products/99", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestUsersEndpointIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)

	staff := loginAs(t, api, "staff", "staff123")
	rec := doJSON(t, api, http.MethodGet, "/api/v1/users", staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	owner := loginAs(t, api, "owner", "owner123")
	rec = doJSON(t, api, http.MethodPost, "/api/v1/users", owner, map[string]string{
		"username": "gudang1",
		"password": "pass1234",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	loginAs(t, api, "gudang1", "pass1234")
}

func TestActivityRejectsUnknownKind(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/activity", token, map[string]string{"kind": "input"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/activity", token, map[string]string{"kind": "scroll"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesSyncCounters(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "owner", "owner123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/clients", token, map[string]string{"name": "Pak Budi"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create client: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "stokku_mutations_total") {
		t.Fatalf("expected mutation counter in metrics output")
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
