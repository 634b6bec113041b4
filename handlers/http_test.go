package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"order-processor/models"
)

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HealthCheck)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	expectedBody := `{"service":"order-processor","status":"healthy"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		ping   error
		status int
	}{
		{"ready", nil, http.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewReadinessHandler(fakePinger{err: tc.ping}, func() string { return "waiting_for_tick" })
			router := gin.New()
			router.GET("/ready", handler.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))

			if w.Code != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("Invalid JSON body: %v", err)
			}
			if body["sweeper"] != "waiting_for_tick" {
				t.Errorf("Expected sweeper phase in body, got %v", body["sweeper"])
			}
		})
	}
}

func setupOrderRoutes(t *testing.T, store *memoryStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewOrderHandler(store, zaptest.NewLogger(t))
	router := gin.New()
	router.GET("/orders/:id", handler.GetOrder)
	router.GET("/orders/:id/notifications", handler.ListNotifications)
	return router
}

func TestOrderHandler_GetOrder(t *testing.T) {
	router := setupOrderRoutes(t, newMemoryStore(pendingOrder(1, 2, "21.98")))

	cases := []struct {
		path   string
		status int
	}{
		{"/orders/1", http.StatusOK},
		{"/orders/999", http.StatusNotFound},
		{"/orders/abc", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.path, tc.status, w.Code)
		}
	}
}

func TestOrderHandler_ListNotifications(t *testing.T) {
	store := newMemoryStore()
	orderID := 5
	store.notifications = []models.Notification{{
		ID:       1,
		OrderID:  &orderID,
		Type:     models.NotificationTypeOrderCompleted,
		Message:  "Order #5 completed",
		Metadata: models.Metadata{"user_id": 3},
	}}
	router := setupOrderRoutes(t, store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/5/notifications", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var body struct {
		OrderID       int                   `json:"order_id"`
		Notifications []models.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if body.OrderID != 5 || len(body.Notifications) != 1 {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/6/notifications", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"notifications":[],"order_id":6}` {
		t.Errorf("Expected empty list, got %d %s", w.Code, w.Body.String())
	}
}

func TestOrderHandler_ListNotificationsError(t *testing.T) {
	store := newMemoryStore()
	store.findErr = errDatabaseDown
	router := setupOrderRoutes(t, store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/5/notifications", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
