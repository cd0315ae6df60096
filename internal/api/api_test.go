package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/otyard/internal/cache"
	"github.com/zulandar/otyard/internal/db"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	db     *gorm.DB
	server *Server
	router *gin.Engine
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(db.AllModels()...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	h := &harness{db: gdb, clock: t0}
	now := func() time.Time { return h.clock }
	log := zaptest.NewLogger(t)

	wo, err := workorder.New(workorder.Opts{DB: gdb, Logger: log, Publisher: &notify.Recorder{}, Now: now})
	if err != nil {
		t.Fatalf("workorder.New: %v", err)
	}
	disp, err := dispatcher.New(dispatcher.Opts{DB: gdb, Cache: cache.NewMemory(), Logger: log, Now: now})
	if err != nil {
		t.Fatalf("dispatcher.New: %v", err)
	}
	h.server, err = New(Opts{DB: gdb, WorkOrders: wo, Dispatcher: disp, Logger: log, EventPoll: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.router = h.server.Router()
	return h
}

// do sends a request as actor; an empty actor omits the identity headers.
func (h *harness) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
		if actor == "supervisor" {
			req.Header.Set(HeaderActorCapabilities, workorder.CapAll)
		}
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, code, w.Body.String())
	}
}

func (h *harness) createOrder(t *testing.T, body map[string]any) models.WorkOrder {
	t.Helper()
	if _, ok := body["companyId"]; !ok {
		body["companyId"] = 1
	}
	if _, ok := body["title"]; !ok {
		body["title"] = "Press 4 hydraulic leak"
	}
	w := h.do(t, http.MethodPost, "/api/work-orders", "supervisor", body)
	wantStatus(t, w, http.StatusCreated)
	var wo models.WorkOrder
	decode(t, w, &wo)
	return wo
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db is required", err)
	}
}

func TestStart_RequiresServer(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for nil server")
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/healthz", "", nil)
	w := h.do(t, http.MethodGet, "/metrics", "", nil)
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "otyard_http_requests_total") {
		t.Error("metrics output missing otyard_http_requests_total")
	}
}

func TestAPI_RequiresActor(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/work-orders", "", nil)
	wantStatus(t, w, http.StatusUnauthorized)

	var body errorBody
	decode(t, w, &body)
	if body.Error.Kind != "UNAUTHENTICATED" {
		t.Errorf("kind = %q, want UNAUTHENTICATED", body.Error.Kind)
	}
}

func TestAPI_Lifecycle(t *testing.T) {
	h := newHarness(t)

	started := t0.Add(-time.Hour)
	w := h.do(t, http.MethodPost, "/api/failures", "operator-7", map[string]any{
		"companyId":         1,
		"title":             "Hydraulic leak on press 4",
		"causedDowntime":    true,
		"downtimeStartedAt": started,
	})
	wantStatus(t, w, http.StatusCreated)
	var fo models.FailureOccurrence
	decode(t, w, &fo)

	wo := h.createOrder(t, map[string]any{"failureIds": []uint{fo.ID}, "priority": "P1", "assignedTo": "tech-1"})
	if !wo.RequiresReturnToProduction {
		t.Fatal("order from a downtime failure should require return to production")
	}
	base := fmt.Sprintf("/api/work-orders/%d", wo.ID)

	wantStatus(t, h.do(t, http.MethodPost, base+"/start", "tech-1", nil), http.StatusOK)

	h.clock = t0.Add(30 * time.Minute)
	w = h.do(t, http.MethodPost, base+"/wait", "tech-1", map[string]any{
		"reason":      "SPARE_PART",
		"description": "Waiting for the seal kit from stores",
		"eta":         t0.Add(24 * time.Hour),
	})
	wantStatus(t, w, http.StatusOK)
	decode(t, w, &wo)
	if wo.Status != models.StatusWaiting {
		t.Fatalf("status = %s, want WAITING", wo.Status)
	}
	wantStatus(t, h.do(t, http.MethodPost, base+"/resume", "tech-1", nil), http.StatusOK)

	closeBody := map[string]any{
		"diagnosis": "Worn seal on the main cylinder",
		"solution":  "Replaced seal kit and bled the circuit",
		"outcome":   "WORKED",
	}
	w = h.do(t, http.MethodPost, base+"/close", "tech-1", closeBody)
	wantStatus(t, w, http.StatusConflict)
	var blocked errorBody
	decode(t, w, &blocked)
	if blocked.Error.Kind != string(workorder.KindReturnToProductionRequired) {
		t.Errorf("kind = %q", blocked.Error.Kind)
	}
	if blocked.Error.Reason != workorder.ReasonOpenDowntime || blocked.Error.DowntimeLogID == nil {
		t.Errorf("error = %+v, want OPEN_DOWNTIME with a log id", blocked.Error)
	}

	h.clock = t0.Add(time.Hour)
	w = h.do(t, http.MethodPost, base+"/confirm-rtp", "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	decode(t, w, &wo)
	if !wo.ReturnToProductionConfirmed {
		t.Error("return to production not confirmed")
	}

	w = h.do(t, http.MethodGet, base+"/downtime", "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	var logs []models.DowntimeLog
	decode(t, w, &logs)
	if len(logs) != 1 || logs[0].EndedAt == nil {
		t.Fatalf("downtime logs = %+v, want one closed log", logs)
	}

	w = h.do(t, http.MethodPost, base+"/close", "tech-1", closeBody)
	wantStatus(t, w, http.StatusOK)
	decode(t, w, &wo)
	if wo.Status != models.StatusClosed || wo.ResultNotes != models.OutcomeWorked {
		t.Errorf("closed order = %s/%s", wo.Status, wo.ResultNotes)
	}

	w = h.do(t, http.MethodGet, base+"/history", "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	var history []models.WorkOrderTransition
	decode(t, w, &history)
	var names []string
	for _, tr := range history {
		names = append(names, tr.Transition)
	}
	want := "create,start,wait,resume,confirm_rtp,close"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("history = %s, want %s", got, want)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	wo := h.createOrder(t, map[string]any{})
	base := fmt.Sprintf("/api/work-orders/%d", wo.ID)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		code   int
		kind   string
	}{
		{"start unassigned", http.MethodPost, base + "/start", "tech-1", nil, http.StatusConflict, "NOT_ASSIGNED"},
		{"resume pending", http.MethodPost, base + "/resume", "tech-1", nil, http.StatusConflict, "INVALID_STATE"},
		{"close pending", http.MethodPost, base + "/close", "tech-1", map[string]any{"outcome": "WORKED"}, http.StatusConflict, "INVALID_STATE"},
		{"unknown order", http.MethodGet, "/api/work-orders/999", "tech-1", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad id", http.MethodGet, "/api/work-orders/abc", "tech-1", nil, http.StatusBadRequest, "VALIDATION"},
		{"missing title", http.MethodPost, "/api/work-orders", "supervisor", map[string]any{"companyId": 1}, http.StatusUnprocessableEntity, "VALIDATION"},
		{"assign without capability", http.MethodPost, base + "/assign", "tech-1", map[string]any{"assignedTo": "tech-1"}, http.StatusForbidden, "FORBIDDEN"},
		{"invalid failure", http.MethodPost, "/api/failures", "tech-1", map[string]any{"companyId": 1}, http.StatusUnprocessableEntity, "VALIDATION"},
		{"failure in other company", http.MethodGet, "/api/failures/1?companyId=2", "tech-1", nil, http.StatusNotFound, "NOT_FOUND"},
		{"dispatcher without company", http.MethodGet, "/api/dispatcher", "tech-1", nil, http.StatusBadRequest, "VALIDATION"},
		{"bad status filter", http.MethodGet, "/api/work-orders?status=DONE", "tech-1", nil, http.StatusBadRequest, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.actor, tt.body)
			wantStatus(t, w, tt.code)
			var body errorBody
			decode(t, w, &body)
			if body.Error.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", body.Error.Kind, tt.kind)
			}
		})
	}
}

func TestAPI_ValidationFields(t *testing.T) {
	h := newHarness(t)
	wo := h.createOrder(t, map[string]any{"assignedTo": "tech-1"})
	base := fmt.Sprintf("/api/work-orders/%d", wo.ID)
	wantStatus(t, h.do(t, http.MethodPost, base+"/start", "tech-1", nil), http.StatusOK)

	w := h.do(t, http.MethodPost, base+"/wait", "tech-1", map[string]any{
		"reason":      "SPARE_PART",
		"description": "short",
		"eta":         t0.Add(24 * time.Hour),
	})
	wantStatus(t, w, http.StatusUnprocessableEntity)
	var body errorBody
	decode(t, w, &body)
	if len(body.Error.Fields) != 1 || body.Error.Fields[0].Field != "description" {
		t.Errorf("fields = %+v, want description", body.Error.Fields)
	}
}

func TestAPI_DispatcherInvalidatedOnTransition(t *testing.T) {
	h := newHarness(t)
	wo := h.createOrder(t, map[string]any{})

	var view map[string]json.RawMessage
	w := h.do(t, http.MethodGet, "/api/dispatcher?companyId=1", "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	decode(t, w, &view)
	for _, key := range []string{"entrantes", "aPlanificar", "enEjecucion", "summary", "generatedAt"} {
		if _, ok := view[key]; !ok {
			t.Errorf("dispatcher view missing %q", key)
		}
	}

	base := fmt.Sprintf("/api/work-orders/%d", wo.ID)
	wantStatus(t, h.do(t, http.MethodPost, base+"/assign", "supervisor", map[string]any{"assignedTo": "tech-1"}), http.StatusOK)
	wantStatus(t, h.do(t, http.MethodPost, base+"/start", "tech-1", nil), http.StatusOK)

	w = h.do(t, http.MethodGet, "/api/dispatcher?companyId=1", "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	var got dispatcher.View
	decode(t, w, &got)
	if len(got.EnEjecucion.InProgress) != 1 || len(got.Entrantes) != 0 {
		t.Errorf("in progress = %d, entrantes = %d; cached view was not invalidated",
			len(got.EnEjecucion.InProgress), len(got.Entrantes))
	}
}

func TestAPI_FollowAndWorkLogs(t *testing.T) {
	h := newHarness(t)
	wo := h.createOrder(t, map[string]any{})
	base := fmt.Sprintf("/api/work-orders/%d", wo.ID)

	wantStatus(t, h.do(t, http.MethodPost, base+"/follow", "planner-2", nil), http.StatusNoContent)
	w := h.do(t, http.MethodGet, base+"/watchers", "planner-2", nil)
	wantStatus(t, w, http.StatusOK)
	var watchers []models.WorkOrderWatcher
	decode(t, w, &watchers)
	if len(watchers) != 1 || watchers[0].UserID != "planner-2" {
		t.Errorf("watchers = %+v", watchers)
	}
	wantStatus(t, h.do(t, http.MethodDelete, base+"/follow", "planner-2", nil), http.StatusNoContent)

	w = h.do(t, http.MethodPost, base+"/work-logs", "tech-1", map[string]any{
		"activityType":  "DIAGNOSIS",
		"startedAt":     t0.Add(-time.Hour),
		"actualMinutes": 40,
	})
	wantStatus(t, w, http.StatusCreated)

	w = h.do(t, http.MethodGet, base, "tech-1", nil)
	wantStatus(t, w, http.StatusOK)
	var detail workorder.Detail
	decode(t, w, &detail)
	if detail.LoggedMinutes != 40 {
		t.Errorf("logged minutes = %d, want 40", detail.LoggedMinutes)
	}
	if detail.SLA == nil {
		t.Error("detail missing SLA projection")
	}
}

func TestEvents_StreamsConnected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set(HeaderActorID, "tech-1")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "event: connected\n") {
		t.Errorf("body = %q, want connected event first", w.Body.String())
	}
}

func TestTransitionsSince_FiltersCompany(t *testing.T) {
	h := newHarness(t)
	a := h.createOrder(t, map[string]any{"companyId": 1})
	h.createOrder(t, map[string]any{"companyId": 2})

	all, err := transitionsSince(h.db, 0, nil)
	if err != nil {
		t.Fatalf("transitionsSince: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}

	company := uint(1)
	scoped, err := transitionsSince(h.db, 0, &company)
	if err != nil {
		t.Fatalf("transitionsSince: %v", err)
	}
	if len(scoped) != 1 || scoped[0].WorkOrderID != a.ID || scoped[0].To != models.StatusPending {
		t.Errorf("scoped = %+v", scoped)
	}

	after, err := transitionsSince(h.db, all[1].ID, nil)
	if err != nil {
		t.Fatalf("transitionsSince: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("got %d events after the last id, want 0", len(after))
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "transition", map[string]int{"id": 3})
	if got, want := buf.String(), "event: transition\ndata: {\"id\":3}\n\n"; got != want {
		t.Errorf("writeSSE = %q, want %q", got, want)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind workorder.Kind
		want int
	}{
		{workorder.KindValidation, http.StatusUnprocessableEntity},
		{workorder.KindNotFound, http.StatusNotFound},
		{workorder.KindForbidden, http.StatusForbidden},
		{workorder.KindInvalidState, http.StatusConflict},
		{workorder.KindNotAssigned, http.StatusConflict},
		{workorder.KindReturnToProductionRequired, http.StatusConflict},
		{workorder.Kind("OTHER"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.want {
			t.Errorf("statusForKind(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
