package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-promotions/internal/domain/order"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// --- Mock implementations ---

type mockOrderService struct {
	lastReq order.Request
	priced  promotion.Order
	placed  *order.Order
	err     error
}

func (m *mockOrderService) Preview(_ context.Context, req order.Request) (promotion.Order, error) {
	m.lastReq = req
	return m.priced, m.err
}

func (m *mockOrderService) PlaceOrder(_ context.Context, req order.Request) (*order.Order, error) {
	m.lastReq = req
	return m.placed, m.err
}

type mockPromotionRepo struct {
	active []promotion.Promotion
	byID   map[string]*promotion.Promotion
	err    error
}

func (m *mockPromotionRepo) ListActive(context.Context) ([]promotion.Promotion, error) {
	return m.active, m.err
}

func (m *mockPromotionRepo) FindByCode(context.Context, string) (*promotion.Promotion, error) {
	return nil, nil
}

func (m *mockPromotionRepo) FindByID(_ context.Context, id string) (*promotion.Promotion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
}

func (m *mockPromotionRepo) RecordUsage(context.Context, promotion.Usage) error {
	return nil
}

// --- Helpers ---

func serve(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func pricedOrder() promotion.Order {
	return promotion.Order{
		Items: []promotion.Item{
			{ProductID: "burger", UnitPrice: 15000, Quantity: 3},
		},
		Subtotal:     45000,
		Total:        35500,
		ShippingCost: 8000,
		OrderType:    promotion.OrderTypeDelivery,
		AppliedPromotions: []promotion.AppliedPromotion{
			{PromotionID: "ten", Name: "Ten off", Kind: promotion.KindPercentage, DiscountAmount: 4500},
			{PromotionID: "five", Name: "Five off", Kind: promotion.KindFixedAmount, DiscountAmount: 5000},
			{PromotionID: "ship", Name: "Free delivery", Kind: promotion.KindFreeShipping, DiscountAmount: 8000},
		},
		TotalDiscount: 9500,
	}
}

// --- Tests ---

func TestPreviewOrder(t *testing.T) {
	svc := &mockOrderService{priced: pricedOrder()}
	h := NewHandler(svc, &mockPromotionRepo{})

	w, body := serve(t, h, http.MethodPost, "/api/orders/preview", `{
		"items": [{"product_id": "burger", "category_id": "mains", "unit_price": 15000, "quantity": 3}],
		"shipping_cost": 8000,
		"order_type": "delivery",
		"promo_code": "WELCOME",
		"customer_id": "c-1",
		"ignored": {"nested": true}
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	assert.Equal(t, order.Request{
		Items:        []promotion.Item{{ProductID: "burger", CategoryID: "mains", UnitPrice: 15000, Quantity: 3}},
		ShippingCost: 8000,
		OrderType:    promotion.OrderTypeDelivery,
		PromoCode:    "WELCOME",
		CustomerID:   "c-1",
	}, svc.lastReq)

	assert.Equal(t, float64(45000), body["subtotal"])
	assert.Equal(t, float64(9500), body["total_discount"])
	assert.Equal(t, float64(35500), body["total"])
	assert.Equal(t, true, body["free_shipping"])
	assert.Equal(t, float64(35500), body["grand_total"])
	assert.Len(t, body["applied_promotions"], 3)
}

func TestPreviewOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{
			name:       "malformed body",
			body:       `{"items": [`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong field type",
			body:       `{"shipping_cost": "free"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty items",
			body:       `{"items": []}`,
			err:        order.ErrEmptyItems,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid quantity",
			body:       `{"items": [{"product_id": "x", "unit_price": 1, "quantity": 0}]}`,
			err:        &order.InvalidQuantityError{ProductID: "x"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "negative shipping",
			body:       `{"items": [{"product_id": "x", "unit_price": 1, "quantity": 1}], "shipping_cost": -1}`,
			err:        &order.InvalidPriceError{},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unexpected failure",
			body:       `{"items": [{"product_id": "x", "unit_price": 1, "quantity": 1}]}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockOrderService{err: tt.err}, &mockPromotionRepo{})

			w, body := serve(t, h, http.MethodPost, "/api/orders/preview", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, float64(tt.wantStatus), body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestPlaceOrder(t *testing.T) {
	created := time.Date(2025, 6, 18, 12, 30, 0, 0, time.UTC)
	p := pricedOrder()
	svc := &mockOrderService{placed: &order.Order{
		ID:                "8f14e45f-ceea-4e7a-9c1b-3a4c5d6e7f80",
		CustomerID:        "c-1",
		OrderType:         p.OrderType,
		Items:             p.Items,
		AppliedPromotions: p.AppliedPromotions,
		Subtotal:          p.Subtotal,
		TotalDiscount:     p.TotalDiscount,
		Total:             p.Total,
		ShippingCost:      p.ShippingCost,
		GrandTotal:        p.GrandTotal(),
		CreatedAt:         created,
	}}
	h := NewHandler(svc, &mockPromotionRepo{})

	w, body := serve(t, h, http.MethodPost, "/api/orders",
		`{"items": [{"product_id": "burger", "unit_price": 15000, "quantity": 3}], "shipping_cost": 8000}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "8f14e45f-ceea-4e7a-9c1b-3a4c5d6e7f80", body["id"])
	assert.Equal(t, "2025-06-18T12:30:00Z", body["created_at"])
	assert.Equal(t, "c-1", body["customer_id"])
	assert.Equal(t, float64(35500), body["grand_total"])
	assert.Equal(t, int64(8000), svc.lastReq.ShippingCost)
}

func TestPlaceOrder_MethodNotAllowed(t *testing.T) {
	h := NewHandler(&mockOrderService{}, &mockPromotionRepo{})

	w, _ := serve(t, h, http.MethodGet, "/api/orders", "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListPromotions(t *testing.T) {
	repo := &mockPromotionRepo{active: []promotion.Promotion{
		{
			ID: "ten", Name: "Ten off", Kind: promotion.KindPercentage, Status: promotion.StatusActive, Priority: 3,
			Discount: promotion.PercentageDiscount{Percent: decimal.NewFromInt(10), Scope: promotion.ScopeTotal},
		},
		{
			ID: "welcome", Name: "Welcome", Kind: promotion.KindPromoCode, Status: promotion.StatusActive,
			Code: "WELCOME", Discount: promotion.FixedAmountDiscount{Amount: 500},
		},
	}}
	h := NewHandler(&mockOrderService{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/promotions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "ten", body[0]["id"])
	assert.Equal(t, "percentage", body[0]["kind"])
	assert.Equal(t, "WELCOME", body[1]["code"])
}

func TestListPromotions_RepositoryError(t *testing.T) {
	h := NewHandler(&mockOrderService{}, &mockPromotionRepo{err: errors.New("db down")})

	w, body := serve(t, h, http.MethodGet, "/api/promotions", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", body["message"])
}

func TestGetPromotion(t *testing.T) {
	repo := &mockPromotionRepo{byID: map[string]*promotion.Promotion{
		"later": {
			ID: "later", Name: "Later", Kind: promotion.KindFreeShipping, Status: promotion.StatusScheduled,
			Discount: promotion.FreeShippingDiscount{},
		},
	}}

	tests := []struct {
		name       string
		repo       *mockPromotionRepo
		path       string
		wantStatus int
		wantID     string
	}{
		{name: "found", repo: repo, path: "/api/promotions/later", wantStatus: http.StatusOK, wantID: "later"},
		{name: "missing", repo: repo, path: "/api/promotions/nope", wantStatus: http.StatusNotFound},
		{name: "repository error", repo: &mockPromotionRepo{err: errors.New("db down")}, path: "/api/promotions/later", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockOrderService{}, tt.repo)

			w, body := serve(t, h, http.MethodGet, tt.path, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, body["id"])
				assert.Equal(t, "scheduled", body["status"])
			}
		})
	}
}

func TestRoute(t *testing.T) {
	h := NewHandler(&mockOrderService{}, &mockPromotionRepo{})

	assert.Equal(t, "GET /api/promotions/{id}", h.Route(httptest.NewRequest(http.MethodGet, "/api/promotions/x", nil)))
	assert.Equal(t, "POST /api/orders", h.Route(httptest.NewRequest(http.MethodPost, "/api/orders", nil)))
	assert.Empty(t, h.Route(httptest.NewRequest(http.MethodGet, "/nowhere", nil)))
}
