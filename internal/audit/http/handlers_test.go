package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockcontrol/internal/audit"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newTestRouter(svc TimelineService, withActor bool) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	if withActor {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				actor := shared.Actor{ID: 3, Role: shared.RoleManager, CompanyID: 42}
				next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
			})
		})
	}
	r.Route("/audit", h.MountRoutes)
	return r
}

func TestTimelineDefaultsAndCompanyScope(t *testing.T) {
	svc := &stubTimelineService{result: audit.Result{Rows: []audit.TimelineRow{{Action: "workflow:approve", Entity: "job_card", EntityID: "5"}}}}
	rr := httptest.NewRecorder()
	newTestRouter(svc, true).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/?entity=job_card&entity_id=5&actor=3", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"workflow:approve"`) {
		t.Fatalf("body missing row: %s", rr.Body.String())
	}
	f := svc.lastFilters
	if f.CompanyID != 42 || f.Entity != "job_card" || f.EntityID != "5" || f.ActorID != 3 {
		t.Fatalf("unexpected filters %+v", f)
	}
	if f.To.Format(dateLayout) != "2025-03-15" || f.From.Format(dateLayout) != "2025-03-08" {
		t.Fatalf("unexpected default range %s..%s", f.From, f.To)
	}
}

func TestTimelineRejectsBadRange(t *testing.T) {
	cases := []string{
		"/audit/?from=2025-03-10&to=2025-03-01",
		"/audit/?from=2024-01-01&to=2025-03-01",
		"/audit/?to=yesterday",
		"/audit/?page=0",
		"/audit/?actor=abc",
	}
	for _, target := range cases {
		rr := httptest.NewRecorder()
		newTestRouter(&stubTimelineService{}, true).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestTimelineRequiresActor(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(&stubTimelineService{}, false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	svc := &stubTimelineService{exportRows: []audit.TimelineRow{{
		At:       time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		ActorID:  3,
		Action:   "requisition:create",
		Entity:   "requisition",
		EntityID: "11",
	}}}
	rr := httptest.NewRecorder()
	newTestRouter(svc, true).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2025-03-01&to=2025-03-14", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "2025-03-10T08:00:00Z,3,requisition:create,requisition,11,") {
		t.Fatalf("unexpected csv body: %s", rr.Body.String())
	}
}

func TestExportRateLimitedPerActor(t *testing.T) {
	router := newTestRouter(&stubTimelineService{}, true)
	var last int
	for i := 0; i <= rateLimit; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", rateLimit, last)
	}
}
