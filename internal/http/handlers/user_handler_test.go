package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
	"github.com/tbourn/go-users-backend/internal/notify"
	"github.com/tbourn/go-users-backend/internal/reporting"
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/services"
)

const testSecret = "handler-secret"

// ---------- test DB ----------

func newUsersDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:user_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// ---------- stubs ----------

type stubUserSvc struct {
	create   func(context.Context, services.CreateUserCommand) (*domain.User, error)
	get      func(context.Context, string) (*domain.User, error)
	listPage func(context.Context, services.ListQuery) ([]domain.User, int64, error)
	stats    func(context.Context, services.ListQuery) (int64, *time.Time, error)

	calls int
}

func (s *stubUserSvc) Create(ctx context.Context, cmd services.CreateUserCommand) (*domain.User, error) {
	s.calls++
	if s.create != nil {
		return s.create(ctx, cmd)
	}
	return &domain.User{ID: uuid.NewString(), Email: cmd.Email(), Name: cmd.Name()}, nil
}

func (s *stubUserSvc) Get(ctx context.Context, id string) (*domain.User, error) {
	s.calls++
	if s.get != nil {
		return s.get(ctx, id)
	}
	return nil, services.ErrUserNotFound
}

func (s *stubUserSvc) ListPage(ctx context.Context, q services.ListQuery) ([]domain.User, int64, error) {
	s.calls++
	if s.listPage != nil {
		return s.listPage(ctx, q)
	}
	return []domain.User{}, 0, nil
}

func (s *stubUserSvc) Stats(ctx context.Context, q services.ListQuery) (int64, *time.Time, error) {
	if s.stats != nil {
		return s.stats(ctx, q)
	}
	return 0, nil, nil
}

// recordingReporter is a reporting.Reporter that remembers what it saw.
type recordingReporter struct {
	mu   sync.Mutex
	id   string
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return r.id, nil
}

func (r *recordingReporter) seen() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newDispatcher(rep reporting.Reporter) *reporting.Dispatcher {
	return reporting.NewDispatcher(
		[]reporting.Named{{Name: "log", Reporter: rep}},
		time.Second, 2*time.Second, zerolog.Nop(),
	)
}

// ---------- router helpers ----------

func newUsersRouter(svc UserService, rep ErrorReporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Authenticate(testSecret))
	h := New(svc, auth.NewPermissionGate(), rep, ReportIDFormatter{Base: BaseFormatter{}})
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	return r
}

func bearer(t *testing.T, perms ...string) string {
	t.Helper()
	tok, err := auth.IssueToken("actor-1", perms, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func do(r http.Handler, method, path, authz, body string, hdr ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return m
}

// ---------- CreateUser: pipeline stages ----------

func TestCreateUser_Unauthenticated_401(t *testing.T) {
	svc := &stubUserSvc{}
	rep := &recordingReporter{id: "r"}
	r := newUsersRouter(svc, newDispatcher(rep))

	for _, authz := range []string{"", "Bearer not-a-jwt", "Basic abc"} {
		w := do(r, http.MethodPost, "/users", authz, `{"user":{"email":"a@b.com"}}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: status=%d", authz, w.Code)
		}
		if got := w.Body.String(); got != `{"error":"You are not authenticated"}` {
			t.Fatalf("auth %q: body=%s", authz, got)
		}
	}
	if svc.calls != 0 {
		t.Fatalf("service must not be called, calls=%d", svc.calls)
	}
	if len(rep.seen()) != 0 {
		t.Fatalf("auth failures must not be reported")
	}
}

func TestCreateUser_Forbidden_403(t *testing.T) {
	svc := &stubUserSvc{}
	rep := &recordingReporter{id: "r"}
	r := newUsersRouter(svc, newDispatcher(rep))

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionViewUsers), `{"user":{"email":"a@b.com"}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != `{"error":"You are not authorized to create users"}` {
		t.Fatalf("body=%s", got)
	}
	if svc.calls != 0 || len(rep.seen()) != 0 {
		t.Fatalf("denied request reached service or reporter")
	}
}

func TestCreateUser_BodyNotObject_400(t *testing.T) {
	svc := &stubUserSvc{}
	r := newUsersRouter(svc, nil)
	authz := bearer(t, auth.ActionCreateUser)

	for _, body := range []string{"", "[]", "null", `"x"`, "{bad"} {
		w := do(r, http.MethodPost, "/users", authz, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, w.Code)
		}
		if got := w.Body.String(); got != `{"errors":{"body":["must be a valid JSON object"]}}` {
			t.Fatalf("body %q: resp=%s", body, got)
		}
	}
	if svc.calls != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestCreateUser_MissingEmail_400_NeverReachesService(t *testing.T) {
	svc := &stubUserSvc{}
	rep := &recordingReporter{id: "r"}
	r := newUsersRouter(svc, newDispatcher(rep))

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser), `{"user":{"name":"Ada"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != `{"errors":{"user.email":["is required"]}}` {
		t.Fatalf("body=%s", got)
	}
	if svc.calls != 0 || len(rep.seen()) != 0 {
		t.Fatalf("validation failure reached service or reporter")
	}
}

func TestCreateUser_ValidationReportsAllFields(t *testing.T) {
	r := newUsersRouter(&stubUserSvc{}, nil)
	long := strings.Repeat("n", 256)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.Wildcard),
		`{"user":{"email":"nope","name":"`+long+`"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ValidationErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	want := map[string][]string{
		"user.email": {"must be a valid email address"},
		"user.name":  {"must not exceed 255 characters"},
	}
	if !reflect.DeepEqual(resp.Errors, want) {
		t.Fatalf("errors=%#v", resp.Errors)
	}
}

func TestCreateUser_Success_201_PassesCommand(t *testing.T) {
	var got services.CreateUserCommand
	svc := &stubUserSvc{create: func(_ context.Context, cmd services.CreateUserCommand) (*domain.User, error) {
		got = cmd
		return &domain.User{ID: "u1", Email: cmd.Email(), Name: cmd.Name(), Attributes: cmd.Attributes()}, nil
	}}
	r := newUsersRouter(svc, nil)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser),
		`{"user":{"email":"ada@example.com","name":"Ada","role":"admin","id":"forged"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got.Email() != "ada@example.com" || got.Name() != "Ada" {
		t.Fatalf("command=%+v", got)
	}
	if attrs := got.Attributes(); attrs["role"] != "admin" || attrs["id"] != nil {
		t.Fatalf("attributes=%#v", attrs)
	}
	var u domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil || u.ID != "u1" {
		t.Fatalf("user=%+v err=%v", u, err)
	}
}

func TestCreateUser_ServiceFailure_ReportedAndFormatted(t *testing.T) {
	svc := &stubUserSvc{create: func(context.Context, services.CreateUserCommand) (*domain.User, error) {
		return nil, services.Internal(errors.New("disk on fire"))
	}}
	rep := &recordingReporter{id: "evt-1"}
	r := newUsersRouter(svc, newDispatcher(rep))

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser), `{"user":{"email":"a@b.com"}}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Fatalf("cause leaked: %s", w.Body.String())
	}
	m := decodeMap(t, w)
	if m["error"] != "internal server error" {
		t.Fatalf("body=%v", m)
	}
	if reports, _ := m["reports"].(map[string]any); reports["log"] != "evt-1" {
		t.Fatalf("reports=%v", m["reports"])
	}
	if seen := rep.seen(); len(seen) != 1 || !errors.Is(seen[0], services.ErrInternal) {
		t.Fatalf("reported=%v", seen)
	}
}

func TestCreateUser_NilReporter_NoReportsKey(t *testing.T) {
	svc := &stubUserSvc{create: func(context.Context, services.CreateUserCommand) (*domain.User, error) {
		return nil, services.AlreadyExists("email", "a@b.com")
	}}
	r := newUsersRouter(svc, nil)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser), `{"user":{"email":"a@b.com"}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != `{"error":"A user with the email a@b.com already exists!"}` {
		t.Fatalf("body=%s", got)
	}
}

// ---------- CreateUser: end to end with the real service ----------

func newRealService(t *testing.T, sender notify.Sender, rep *recordingReporter) (*services.UserService, *reporting.Dispatcher, *gorm.DB) {
	t.Helper()
	db := newUsersDB(t)
	d := newDispatcher(rep)
	return services.NewUserService(db, sender, d, time.Hour), d, db
}

func countUsers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	n, err := repo.CountUsers(context.Background(), db, repo.UserFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateUser_E2E_ResponseMatchesStoredRecord(t *testing.T) {
	rep := &recordingReporter{id: "rep-1"}
	svc, d, db := newRealService(t, nil, rep)
	r := newUsersRouter(svc, d)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser),
		`{"user":{"email":"  Ada@Example.com ","name":"Ada","team":"core"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := decodeMap(t, w)

	stored, err := repo.GetUser(context.Background(), db, fmt.Sprint(got["id"]))
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	raw, _ := json.Marshal(stored)
	var want map[string]any
	_ = json.Unmarshal(raw, &want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("response differs from stored record:\n got %v\nwant %v", got, want)
	}
	if got["email"] != "ada@example.com" {
		t.Fatalf("email not normalized: %v", got["email"])
	}
	if len(rep.seen()) != 0 {
		t.Fatalf("success must not be reported")
	}
}

func TestCreateUser_E2E_Duplicate_409WithReportID_NoSecondRow(t *testing.T) {
	rep := &recordingReporter{id: "rep-42"}
	svc, d, db := newRealService(t, nil, rep)
	r := newUsersRouter(svc, d)
	authz := bearer(t, auth.ActionCreateUser)

	if w := do(r, http.MethodPost, "/users", authz, `{"user":{"email":"a@b.com"}}`); w.Code != http.StatusCreated {
		t.Fatalf("first create: status=%d body=%s", w.Code, w.Body.String())
	}
	w := do(r, http.MethodPost, "/users", authz, `{"user":{"email":"A@B.com"}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second create: status=%d body=%s", w.Code, w.Body.String())
	}
	want := `{"error":"A user with the email a@b.com already exists!","reports":{"log":"rep-42"}}`
	if got := w.Body.String(); got != want {
		t.Fatalf("body=%s\nwant=%s", got, want)
	}
	if n := countUsers(t, db); n != 1 {
		t.Fatalf("rows=%d; want 1", n)
	}
	if seen := rep.seen(); len(seen) != 1 || !errors.Is(seen[0], services.ErrAlreadyExists) {
		t.Fatalf("reported=%v", seen)
	}
}

func TestCreateUser_E2E_NotificationFailure_Still201(t *testing.T) {
	rep := &recordingReporter{id: "rep-n"}
	sender := notify.SenderFunc(func(context.Context, notify.Welcome) error {
		return errors.New("mail relay down")
	})
	svc, d, db := newRealService(t, sender, rep)
	r := newUsersRouter(svc, d)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.ActionCreateUser), `{"user":{"email":"n@b.com"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if n := countUsers(t, db); n != 1 {
		t.Fatalf("rows=%d; want 1", n)
	}
	seen := rep.seen()
	var nf *services.NonFatalError
	if len(seen) != 1 || !errors.As(seen[0], &nf) {
		t.Fatalf("notification failure not reported: %v", seen)
	}
	if _, present := decodeMap(t, w)["reports"]; present {
		t.Fatalf("success body must not carry reports")
	}
}

// ---------- ListUsers ----------

func TestListUsers_RequiresViewPermission(t *testing.T) {
	svc := &stubUserSvc{}
	r := newUsersRouter(svc, nil)

	if w := do(r, http.MethodGet, "/users", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anon status=%d", w.Code)
	}
	w := do(r, http.MethodGet, "/users", bearer(t, auth.ActionCreateUser), "")
	if w.Code != http.StatusForbidden || w.Body.String() != `{"error":"You are not authorized to view users"}` {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.calls != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestListUsers_PaginationAndETag(t *testing.T) {
	rep := &recordingReporter{}
	svc, d, _ := newRealService(t, nil, rep)
	r := newUsersRouter(svc, d)
	create := bearer(t, auth.ActionCreateUser)
	view := bearer(t, auth.ActionViewUsers)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"user":{"email":"u%d@example.com"}}`, i)
		if w := do(r, http.MethodPost, "/users", create, body); w.Code != http.StatusCreated {
			t.Fatalf("seed %d: status=%d", i, w.Code)
		}
	}

	w := do(r, http.MethodGet, "/users?page=1&page_size=2&sort=email", view, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListUsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Users) != 2 || resp.Users[0].Email != "u0@example.com" {
		t.Fatalf("users=%+v", resp.Users)
	}
	wantPg := Pagination{Page: 1, PageSize: 2, Total: 3, TotalPages: 2, HasNext: true}
	if resp.Pagination != wantPg {
		t.Fatalf("pagination=%+v", resp.Pagination)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"users:3:`) {
		t.Fatalf("etag=%q", etag)
	}
	w2 := do(r, http.MethodGet, "/users?page=1&page_size=2&sort=email", view, "", "If-None-Match", etag)
	if w2.Code != http.StatusNotModified || w2.Body.Len() != 0 {
		t.Fatalf("conditional: status=%d body=%q", w2.Code, w2.Body.String())
	}

	w3 := do(r, http.MethodGet, "/users?page=2&page_size=2&sort=email", view, "", "If-None-Match", etag)
	if w3.Code != http.StatusOK {
		t.Fatalf("other page must not match etag: status=%d", w3.Code)
	}
}

func TestListUsers_ETagDependsOnEmailFilter(t *testing.T) {
	ts := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubUserSvc{
		stats: func(context.Context, services.ListQuery) (int64, *time.Time, error) {
			return 1, &ts, nil
		},
		listPage: func(context.Context, services.ListQuery) ([]domain.User, int64, error) {
			return []domain.User{{ID: "u"}}, 1, nil
		},
	}
	r := newUsersRouter(svc, newDispatcher(&recordingReporter{}))
	view := bearer(t, auth.ActionViewUsers)

	wa := do(r, http.MethodGet, "/users?email=a@example.com", view, "")
	etagA := wa.Header().Get("ETag")
	if wa.Code != http.StatusOK || !strings.Contains(etagA, "a%40example.com") {
		t.Fatalf("status=%d etag=%q", wa.Code, etagA)
	}

	wb := do(r, http.MethodGet, "/users?email=b@example.com", view, "", "If-None-Match", etagA)
	if wb.Code != http.StatusOK || wb.Header().Get("ETag") == etagA {
		t.Fatalf("different filter must not revalidate: status=%d etag=%q", wb.Code, wb.Header().Get("ETag"))
	}

	wa2 := do(r, http.MethodGet, "/users?email=A@Example.com", view, "", "If-None-Match", etagA)
	if wa2.Code != http.StatusNotModified {
		t.Fatalf("same normalized filter should revalidate: status=%d", wa2.Code)
	}
}

func TestListUsers_ServiceError_500(t *testing.T) {
	svc := &stubUserSvc{
		stats: func(context.Context, services.ListQuery) (int64, *time.Time, error) {
			return 0, nil, errors.New("stats down")
		},
		listPage: func(context.Context, services.ListQuery) ([]domain.User, int64, error) {
			return nil, 0, services.Internal(errors.New("list down"))
		},
	}
	rep := &recordingReporter{id: "e"}
	r := newUsersRouter(svc, newDispatcher(rep))

	w := do(r, http.MethodGet, "/users", bearer(t, auth.ActionViewUsers), "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("no etag expected when stats fail")
	}
	if len(rep.seen()) != 1 {
		t.Fatalf("list failure should be reported once")
	}
}

// ---------- GetUser ----------

func TestGetUser_BadID_NotFound_Found(t *testing.T) {
	id := uuid.NewString()
	svc := &stubUserSvc{get: func(_ context.Context, got string) (*domain.User, error) {
		if got == id {
			return &domain.User{ID: id, Email: "a@b.com"}, nil
		}
		return nil, services.ErrUserNotFound
	}}
	rep := &recordingReporter{id: "r"}
	r := newUsersRouter(svc, newDispatcher(rep))
	view := bearer(t, auth.ActionViewUsers)

	w := do(r, http.MethodGet, "/users/not-a-uuid", view, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != ErrCodeBadRequest {
		t.Fatalf("bad id body=%s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/users/"+uuid.NewString(), view, "")
	if w.Code != http.StatusNotFound || w.Body.String() != `{"error":"user not found"}` {
		t.Fatalf("missing: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/users/"+id, view, "")
	if w.Code != http.StatusOK {
		t.Fatalf("found status=%d", w.Code)
	}
	if len(rep.seen()) != 0 {
		t.Fatalf("not found must not be reported")
	}
}

func TestNew_NilGateDeniesEverything(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Authenticate(testSecret))
	h := New(&stubUserSvc{}, nil, nil, nil)
	r.POST("/users", h.CreateUser)

	w := do(r, http.MethodPost, "/users", bearer(t, auth.Wildcard), `{"user":{"email":"a@b.com"}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d", w.Code)
	}
}
