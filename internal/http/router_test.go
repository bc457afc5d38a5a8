package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/medtrack-backend/internal/config"
	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/http/handlers"
	"github.com/tbourn/medtrack-backend/internal/http/middleware"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        1000,
		RateBurst:      1000,
		CORS:           config.CORSConfig{AllowedOrigins: nil},
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
		Schedule:       config.ScheduleConfig{TZName: "UTC"},
	}
}

// morning is 07:00 UTC today, so an 08:00 slot is still pending.
func morning() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 7, 0, 0, 0, time.UTC)
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	return newTestRouterWithClock(t, cfg, services.FixedClock(morning()))
}

func newTestRouterWithClock(t *testing.T, cfg config.Config, clock services.Clock) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	nop := zerolog.Nop()
	st := services.NewStack(db, ProfileRepo{}, services.StackOptions{
		Loc:   time.UTC,
		Clock: clock,
		Log:   &nop,
	})
	r := gin.New()
	RegisterRoutes(r, db, st, cfg)
	return r, db
}

// do sends a JSON request and returns the recorder.
func do(r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := do(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if exp := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(exp, "ETag") {
		t.Fatalf("ETag not exposed: %q", exp)
	}

	w = do(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = do(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestRouter(t, cfg)

	w := do(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	if w := do(r, http.MethodGet, "/api/v2/profiles", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("custom base path not mounted: %d", w.Code)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	w := do(r, http.MethodGet, "/api/v1/profiles", nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q; want gzip", got)
	}
}

func TestDoseFlow_TakeReplayAndConflicts(t *testing.T) {
	r, db := newTestRouter(t, testConfig())
	user := map[string]string{"X-User-ID": "household-1"}

	// Profile
	w := do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "ana maria"}, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create profile = %d %s", w.Code, w.Body.String())
	}
	p := decode[domain.Profile](t, w)
	if p.DisplayName != "Ana Maria" {
		t.Fatalf("display name = %q", p.DisplayName)
	}

	// Medication with its first schedule
	w = do(r, http.MethodPost, "/api/v1/profiles/"+p.ID+"/medications", map[string]any{
		"name":          "aspirin",
		"initial_count": 1,
		"schedule":      map[string]any{"times": []string{"08:00", "20:00"}},
	}, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create medication = %d %s", w.Code, w.Body.String())
	}
	m := decode[domain.Medication](t, w)

	// Today's doses: both pending at 07:00
	w = do(r, http.MethodGet, "/api/v1/profiles/"+p.ID+"/doses/today", nil, user)
	if w.Code != http.StatusOK {
		t.Fatalf("today = %d %s", w.Code, w.Body.String())
	}
	today := decode[handlers.TodayResponse](t, w)
	if len(today.Doses) != 2 {
		t.Fatalf("today doses = %d; want 2", len(today.Doses))
	}
	for _, d := range today.Doses {
		if d.Status != domain.StatusPending {
			t.Fatalf("dose %s status = %s", d.Slot, d.Status)
		}
	}
	first, second := today.Doses[0].Ref(), today.Doses[1].Ref()

	// Take with an idempotency key
	keyed := map[string]string{"X-User-ID": "household-1", middleware.HeaderIdempotencyKey: "take-1"}
	w = do(r, http.MethodPost, "/api/v1/doses/take", first, keyed)
	if w.Code != http.StatusCreated {
		t.Fatalf("take = %d %s", w.Code, w.Body.String())
	}
	taken := decode[domain.DoseLog](t, w)
	if taken.Status != domain.StatusTaken {
		t.Fatalf("status = %s", taken.Status)
	}

	// Replay returns the stored log
	w = do(r, http.MethodPost, "/api/v1/doses/take", first, keyed)
	if w.Code != http.StatusOK || w.Header().Get(middleware.ReplayHeader) != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get(middleware.ReplayHeader))
	}
	if again := decode[domain.DoseLog](t, w); again.ID != taken.ID {
		t.Fatalf("replay returned %s; want %s", again.ID, taken.ID)
	}

	// Same slot without a key is a conflict
	w = do(r, http.MethodPost, "/api/v1/doses/skip", first, user)
	if w.Code != http.StatusConflict {
		t.Fatalf("skip logged slot = %d", w.Code)
	}
	if e := decode[handlers.ErrorResponse](t, w); e.Code != handlers.ErrCodeDoseAlreadyLogged {
		t.Fatalf("code = %q", e.Code)
	}

	// Inventory is exhausted
	w = do(r, http.MethodPost, "/api/v1/doses/take", second, user)
	if w.Code != http.StatusConflict {
		t.Fatalf("take without stock = %d", w.Code)
	}
	if e := decode[handlers.ErrorResponse](t, w); e.Code != handlers.ErrCodeOutOfStock {
		t.Fatalf("code = %q", e.Code)
	}

	var med domain.Medication
	if err := db.First(&med, "id = ?", m.ID).Error; err != nil {
		t.Fatal(err)
	}
	if med.CurrentCount != 0 {
		t.Fatalf("current_count = %d; want 0", med.CurrentCount)
	}

	// Refill then snooze the evening dose and take it later
	if w := do(r, http.MethodPost, "/api/v1/medications/"+m.ID+"/refill", map[string]any{"quantity": 5}, user); w.Code != http.StatusOK {
		t.Fatalf("refill = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/v1/doses/snooze", second, user); w.Code != http.StatusCreated {
		t.Fatalf("snooze = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/v1/doses/take", second, user); w.Code != http.StatusCreated {
		t.Fatalf("take snoozed = %d %s", w.Code, w.Body.String())
	}

	// History and health reflect the two taken doses
	day := morning().Truncate(24 * time.Hour)
	window := "?from=" + day.Format(time.RFC3339) + "&to=" + day.Add(24*time.Hour-time.Second).Format(time.RFC3339)
	w = do(r, http.MethodGet, "/api/v1/profiles/"+p.ID+"/doses"+window, nil, user)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
	if hist := decode[handlers.DoseHistoryResponse](t, w); len(hist.Logs) != 2 {
		t.Fatalf("history logs = %d; want 2", len(hist.Logs))
	}
	w = do(r, http.MethodPost, "/api/v1/profiles/"+p.ID+"/health/recompute", nil, user)
	if w.Code != http.StatusOK {
		t.Fatalf("recompute = %d %s", w.Code, w.Body.String())
	}
}

func TestDoseViews_FollowServiceClock(t *testing.T) {
	now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	r, _ := newTestRouterWithClock(t, testConfig(), func() time.Time { return now })
	user := map[string]string{"X-User-ID": "household-1"}

	p := decode[domain.Profile](t, do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "Ana"}, user))
	w := do(r, http.MethodPost, "/api/v1/profiles/"+p.ID+"/medications", map[string]any{
		"name":          "Aspirin",
		"initial_count": 5,
		"schedule":      map[string]any{"times": []string{"08:00"}},
	}, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create medication = %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/profiles/"+p.ID+"/doses/today", nil, user)
	today := decode[handlers.TodayResponse](t, w)
	if today.Date != "2025-06-02" || len(today.Doses) != 1 {
		t.Fatalf("today = %+v", today)
	}
	if w := do(r, http.MethodPost, "/api/v1/doses/take", today.Doses[0].Ref(), user); w.Code != http.StatusCreated {
		t.Fatalf("take = %d %s", w.Code, w.Body.String())
	}

	// The default history window ends at the service clock, not wall time.
	now = now.Add(2 * time.Hour)
	w = do(r, http.MethodGet, "/api/v1/profiles/"+p.ID+"/doses", nil, user)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d %s", w.Code, w.Body.String())
	}
	if hist := decode[handlers.DoseHistoryResponse](t, w); len(hist.Logs) != 1 {
		t.Fatalf("history logs = %d; want 1", len(hist.Logs))
	}
}

func TestErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	missing := "123e4567-e89b-12d3-a456-426614174000"

	w := do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "Ana"}, nil)
	p := decode[domain.Profile](t, w)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad uuid", http.MethodGet, "/api/v1/profiles/not-a-uuid", nil, http.StatusBadRequest, handlers.ErrCodeBadRequest},
		{"unknown profile", http.MethodGet, "/api/v1/profiles/" + missing, nil, http.StatusNotFound, handlers.ErrCodeNotFound},
		{"today unknown profile", http.MethodGet, "/api/v1/profiles/" + missing + "/doses/today", nil, http.StatusNotFound, handlers.ErrCodeNotFound},
		{"blank name", http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "   "}, http.StatusBadRequest, handlers.ErrCodeBadRequest},
		{"bad schedule", http.MethodPost, "/api/v1/profiles/" + p.ID + "/medications", map[string]any{
			"name": "x", "schedule": map[string]any{"times": []string{"25:00"}},
		}, http.StatusBadRequest, handlers.ErrCodeInvalidSchedule},
		{"negative count", http.MethodPost, "/api/v1/profiles/" + p.ID + "/medications", map[string]any{
			"name": "x", "initial_count": -1,
		}, http.StatusBadRequest, handlers.ErrCodeBadRequest},
		{"search without query", http.MethodGet, "/api/v1/profiles/" + p.ID + "/medications/search?q=+", nil, http.StatusBadRequest, handlers.ErrCodeBadRequest},
		{"search bad k", http.MethodGet, "/api/v1/profiles/" + p.ID + "/medications/search?q=asp&k=50", nil, http.StatusBadRequest, handlers.ErrCodeBadRequest},
		{"search unknown profile", http.MethodGet, "/api/v1/profiles/" + missing + "/medications/search?q=asp", nil, http.StatusNotFound, handlers.ErrCodeNotFound},
		{"unknown medication", http.MethodPost, "/api/v1/doses/take", map[string]any{
			"medication_id": missing, "schedule_id": missing, "scheduled_at": 1,
		}, http.StatusNotFound, handlers.ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, tc.method, tc.path, tc.body, nil)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if e := decode[handlers.ErrorResponse](t, w); e.Code != tc.code {
				t.Fatalf("code = %q; want %q", e.Code, tc.code)
			}
		})
	}
}

func TestSearchMedications(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	p := decode[domain.Profile](t, do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "Ana"}, nil))
	for _, body := range []map[string]any{
		{"name": "aspirin", "strength": "81 mg"},
		{"name": "metformin", "brand_name": "Glucophage"},
	} {
		if w := do(r, http.MethodPost, "/api/v1/profiles/"+p.ID+"/medications", body, nil); w.Code != http.StatusCreated {
			t.Fatalf("create: %d %s", w.Code, w.Body.String())
		}
	}

	w := do(r, http.MethodGet, "/api/v1/profiles/"+p.ID+"/medications/search?q=gluco", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	res := decode[handlers.SearchMedicationsResponse](t, w)
	if len(res.Matches) != 1 || res.Matches[0].Medication.Name != "Metformin" {
		t.Fatalf("matches = %+v", res.Matches)
	}
}

func TestListProfiles_ETagNotModified(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "Ana"}, nil)

	w := do(r, http.MethodGet, "/api/v1/profiles", nil, nil)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("list = %d etag=%q", w.Code, etag)
	}

	w = do(r, http.MethodGet, "/api/v1/profiles", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d; want 304", w.Code)
	}

	do(r, http.MethodPost, "/api/v1/profiles", map[string]any{"display_name": "Bo"}, nil)
	w = do(r, http.MethodGet, "/api/v1/profiles", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("list after change = %d; want 200", w.Code)
	}
}

func TestAdminSweep(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	w := do(r, http.MethodPost, "/api/v1/admin/sweep", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep = %d %s", w.Code, w.Body.String())
	}
	if res := decode[services.SweepResult](t, w); res.Failed != 0 {
		t.Fatalf("sweep result = %+v", res)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := do(r, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestProfileRepo_Proxies(t *testing.T) {
	db := newTestDB(t)
	pr := ProfileRepo{}
	ctx := context.Background()

	p, err := pr.CreateProfile(ctx, db, "Ana", "#000000")
	if err != nil || p.ID == "" {
		t.Fatalf("CreateProfile: %+v %v", p, err)
	}
	if _, err := pr.CreateProfile(ctx, db, "Bo", "#111111"); err != nil {
		t.Fatal(err)
	}

	got, err := pr.GetProfile(ctx, db, p.ID)
	if err != nil || got.DisplayName != "Ana" {
		t.Fatalf("GetProfile: %+v %v", got, err)
	}
	if err := pr.UpdateProfile(ctx, db, p.ID, "Ana B", "#222222"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	n, err := pr.CountProfiles(ctx, db)
	if err != nil || n != 2 {
		t.Fatalf("CountProfiles: %d %v", n, err)
	}
	page, err := pr.ListProfilesPage(ctx, db, 0, 1)
	if err != nil || len(page) != 1 {
		t.Fatalf("ListProfilesPage: %d %v", len(page), err)
	}

	remote := *got
	remote.DisplayName = "Remote"
	remote.UpdatedAt = time.Now().UTC().Add(time.Hour)
	if err := pr.SaveProfile(ctx, db, &remote); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := pr.DeleteProfile(ctx, db, p.ID); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, err := pr.GetProfile(ctx, db, p.ID); err == nil {
		t.Fatalf("expected profile to be gone")
	}
}

func TestRegisterRoutes_IdempotencyLookupFailureIsIgnored(t *testing.T) {
	r, db := newTestRouter(t, testConfig())

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	// A failing lookup is a miss; the request still reaches routing.
	w := do(r, http.MethodPost, "/health", nil, map[string]string{
		"X-User-ID":                     "u1",
		middleware.HeaderIdempotencyKey: "force-error",
	})
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
