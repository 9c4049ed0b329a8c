package cart_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

type cartResponse struct {
	Data cart.View `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type failingSource struct{}

func (failingSource) ForCustomer(context.Context, uuid.UUID) ([]pricing.CustomerOffer, error) {
	return nil, errors.New("offers db unreachable")
}

func newRouter(t *testing.T, offers offer.Source) http.Handler {
	t.Helper()
	h := &cart.Handler{
		Carts:  cart.NewRegistry(pricing.NewEngine(pricing.DefaultConfig(), nil), time.Hour),
		Offers: offers,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return checkoutTime },
	}
	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) { h.Register(v) })
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func decodeCart(t *testing.T, rr *httptest.ResponseRecorder) cart.View {
	t.Helper()
	var resp cartResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Data
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func createCart(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/v1/carts", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	v := decodeCart(t, rr)
	require.Equal(t, "empty", v.State)
	return "/api/v1/carts/" + v.ID.String()
}

func TestHandlerCheckoutFlow(t *testing.T) {
	customer := uuid.New()
	offers := offer.NewStaticSource()
	offers.Put(customer, pricing.CustomerOffer{Percentage: amount("10"), ValidFrom: checkoutTime.AddDate(0, -1, 0), Lifetime: true})
	h := newRouter(t, offers)
	base := createCart(t, h)

	rr := do(t, h, http.MethodPost, base+"/items", map[string]any{
		"sku": "TS-01", "name": "Crew tee", "section": "T-shirt", "qty": 3, "unitPrice": 499,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	v := decodeCart(t, rr)
	require.Equal(t, "stable", v.State)
	require.Len(t, v.Lines, 1)
	lineID := v.Lines[0].ID.String()
	requireAmount(t, "1199", v.Lines[0].LineTotal)
	requireAmount(t, "1199", v.Pricing.Total)
	requireAmount(t, "1199", v.Receipt.NetAmount)

	rr = do(t, h, http.MethodPut, base+"/items/"+lineID+"/price", map[string]any{"unitPrice": "777"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v = decodeCart(t, rr)
	require.True(t, v.Lines[0].ManualOverride)
	requireAmount(t, "2331", v.Lines[0].LineTotal)

	rr = do(t, h, http.MethodDelete, base+"/items/"+lineID+"/price", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	requireAmount(t, "1199", decodeCart(t, rr).Lines[0].LineTotal)

	rr = do(t, h, http.MethodPut, base+"/discount", map[string]any{"amount": 100})
	require.Equal(t, http.StatusOK, rr.Code)
	requireAmount(t, "100", decodeCart(t, rr).Pricing.TotalDiscount)

	rr = do(t, h, http.MethodPut, base+"/customer", map[string]any{"customerId": customer.String()})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v = decodeCart(t, rr)
	require.NotNil(t, v.CustomerID)
	require.Equal(t, customer, *v.CustomerID)
	require.Len(t, v.Pricing.Breakdown, 2)
	requireAmount(t, "209.9", v.Pricing.TotalDiscount)
	requireAmount(t, "989.1", v.Pricing.Total)
	requireAmount(t, "989.1", v.Lines[0].DiscountedTotal)

	rr = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, v, decodeCart(t, rr))

	rr = do(t, h, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	v = decodeCart(t, rr)
	require.Equal(t, "empty", v.State)
	require.Empty(t, v.Lines)
	require.Nil(t, v.CustomerID)
}

func TestHandlerCountsDiscountsOnMutationsOnly(t *testing.T) {
	obs.MustRegisterDomainMetrics("kasir_test", prometheus.NewRegistry())
	applied := obs.DiscountAppliedTotal.WithLabelValues(pricing.DiscountKindOneTime)
	h := newRouter(t, nil)
	base := createCart(t, h)

	rr := do(t, h, http.MethodPost, base+"/items", map[string]any{
		"sku": "TS-01", "section": "T-shirt", "qty": 1, "unitPrice": 499,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	before := testutil.ToFloat64(applied)
	rr = do(t, h, http.MethodPut, base+"/discount", map[string]any{"amount": 50})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, before+1, testutil.ToFloat64(applied))

	for i := 0; i < 3; i++ {
		rr = do(t, h, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, before+1, testutil.ToFloat64(applied), "reads must not count discounts")
}

func TestHandlerQuantityAndRemoval(t *testing.T) {
	h := newRouter(t, nil)
	base := createCart(t, h)
	rr := do(t, h, http.MethodPost, base+"/items", map[string]any{"sku": "TS-01", "section": "T-shirt", "qty": 1, "unitPrice": 499})
	require.Equal(t, http.StatusCreated, rr.Code)
	first := decodeCart(t, rr).Lines[0].ID
	rr = do(t, h, http.MethodPost, base+"/items", map[string]any{"sku": "TS-02", "section": "T-shirt", "qty": 1, "unitPrice": 499})
	second := decodeCart(t, rr).Lines[1].ID

	rr = do(t, h, http.MethodPatch, base+"/items/"+first.String(), map[string]any{"qty": 0})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "INVALID_QUANTITY", decodeErr(t, rr).Error.Code)

	rr = do(t, h, http.MethodPatch, base+"/items/"+first.String(), map[string]any{"qty": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	requireAmount(t, "1199", decodeCart(t, rr).Pricing.Subtotal)

	rr = do(t, h, http.MethodPut, base+"/items/order", map[string]any{"lineIds": []string{second.String(), first.String()}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v := decodeCart(t, rr)
	require.Equal(t, second, v.Lines[0].ID)
	requireAmount(t, "1199", v.Pricing.Subtotal)

	rr = do(t, h, http.MethodDelete, base+"/items/"+first.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	v = decodeCart(t, rr)
	require.Len(t, v.Lines, 1)
	requireAmount(t, "499", v.Pricing.Subtotal)

	rr = do(t, h, http.MethodDelete, base+"/items/"+first.String(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := newRouter(t, nil)
	base := createCart(t, h)

	rr := do(t, h, http.MethodPost, base+"/items", map[string]any{"sku": "TS-01", "qty": 1})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decodeErr(t, rr)
	require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	require.Equal(t, "required", resp.Error.Details["section"])
	require.Equal(t, "required", resp.Error.Details["unitPrice"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, base+"/items", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPut, base+"/discount", map[string]any{"amount": -5})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPut, base+"/customer", map[string]any{"customerId": "nope"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/carts/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/carts/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", decodeErr(t, rr).Error.Code)

	rr = do(t, h, http.MethodPatch, base+"/items/xyz", map[string]any{"qty": 1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerOfferSourceFailure(t *testing.T) {
	h := newRouter(t, failingSource{})
	base := createCart(t, h)

	rr := do(t, h, http.MethodPut, base+"/customer", map[string]any{"customerId": uuid.NewString()})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "OFFERS_UNAVAILABLE", decodeErr(t, rr).Error.Code)
}

func TestHandlerRules(t *testing.T) {
	h := newRouter(t, nil)
	rr := do(t, h, http.MethodGet, "/api/v1/pricing/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data struct {
			Rules   []pricing.Rule `json:"rules"`
			Tiers   []pricing.Tier `json:"tiers"`
			TaxRate string         `json:"taxRate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Rules, 8)
	require.Len(t, resp.Data.Tiers, 4)
	require.Equal(t, "0.05", resp.Data.TaxRate)
}
