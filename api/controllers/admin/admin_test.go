package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/internal/reconciliation"
	"github.com/bazaarhq/bazaar-backend/internal/revenue"
	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
)

type stubRevenue struct {
	query revenue.Query
}

func (s *stubRevenue) Summary(ctx context.Context, q revenue.Query) (*revenue.Summary, error) {
	s.query = q
	return &revenue.Summary{Currency: enums.CurrencyUSD, TotalCommissions: decimal.RequireFromString("17.00"), TotalOrders: 3}, nil
}

type stubReconciliation struct {
	reason   string
	limit    int
	resolved uuid.UUID
	note     string
}

func (s *stubReconciliation) ProcessDue(ctx context.Context) (reconciliation.RunSummary, error) {
	return reconciliation.RunSummary{}, nil
}

func (s *stubReconciliation) HandleChargeEvent(ctx context.Context, event reconciliation.ChargeEvent) (*settlement.Result, error) {
	return nil, nil
}

func (s *stubReconciliation) ListOpen(ctx context.Context, reason string, limit int) ([]models.ReconciliationItem, error) {
	s.reason, s.limit = reason, limit
	return []models.ReconciliationItem{{ID: uuid.New(), Reason: enums.ReconciliationTransferFailed, Status: enums.ReconciliationStatusOpen}}, nil
}

func (s *stubReconciliation) Resolve(ctx context.Context, itemID uuid.UUID, note string) (*models.ReconciliationItem, error) {
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note required")
	}
	s.resolved, s.note = itemID, note
	return &models.ReconciliationItem{ID: itemID, Status: enums.ReconciliationStatusResolved, ResolutionNote: &note}, nil
}

func (s *stubReconciliation) RefreshQueueDepth(ctx context.Context) error {
	return nil
}

func TestRevenuePassesWindow(t *testing.T) {
	svc := &stubRevenue{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/revenue?currency=usd&from=2026-09-01T00:00:00Z&to=2026-10-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	Revenue(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.query.Currency != "usd" || svc.query.From == nil || svc.query.To == nil {
		t.Fatalf("unexpected query %+v", svc.query)
	}
	if !svc.query.From.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", svc.query.From)
	}
	var payload struct {
		Data revenue.Summary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.TotalCommissions.StringFixed(2) != "17.00" || payload.Data.TotalOrders != 3 {
		t.Fatalf("unexpected summary %+v", payload.Data)
	}
}

func TestRevenueRejectsBadTimestamp(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/revenue?from=last-week", nil)
	rec := httptest.NewRecorder()
	Revenue(&stubRevenue{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReconciliationQueueFilters(t *testing.T) {
	svc := &stubReconciliation{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?reason=transfer_failed&limit=20", nil)
	rec := httptest.NewRecorder()
	ReconciliationQueue(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.reason != "transfer_failed" || svc.limit != 20 {
		t.Fatalf("unexpected filter %q %d", svc.reason, svc.limit)
	}
}

func TestResolveReconciliationItem(t *testing.T) {
	svc := &stubReconciliation{}
	itemID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"  paid out manually via dashboard  "}`))
	rc := chi.NewRouteContext()
	rc.URLParams.Add("itemId", itemID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	rec := httptest.NewRecorder()
	ResolveReconciliationItem(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.resolved != itemID || svc.note != "paid out manually via dashboard" {
		t.Fatalf("unexpected resolution %s %q", svc.resolved, svc.note)
	}
}

func TestResolveReconciliationItemRejectsBadID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"x"}`))
	rc := chi.NewRouteContext()
	rc.URLParams.Add("itemId", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	rec := httptest.NewRecorder()
	ResolveReconciliationItem(&stubReconciliation{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
