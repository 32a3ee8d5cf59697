package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/club-events/internal/config"
	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/middleware"
	"github.com/iliyamo/club-events/internal/model"
	"github.com/iliyamo/club-events/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var eventCols = []string{"id", "club_id", "name", "about", "location_name", "starts_at", "duration_hours",
	"reg_starts_at", "reg_ends_at", "capacity", "active_count", "status", "has_fee", "fee_cents",
	"created_at", "updated_at", "deleted_at"}

func intPtr(n int) *int { return &n }

func eventRow(id uint64, capacity any, active int) *sqlmock.Rows {
	return sqlmock.NewRows(eventCols).AddRow(id, 3, "Go meetup", "talks", "Hall A",
		testNow.Add(24*time.Hour), 2.0, testNow.Add(-time.Hour), nil, capacity, active,
		model.EventStatusOpen, false, 0, testNow.Add(-48*time.Hour), testNow.Add(-48*time.Hour), nil)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

// as authenticates every request on the route as uid.
func as(uid uint64, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.ContextUserID, uid)
			c.Set(middleware.ContextRole, role)
			return next(c)
		}
	}
}

func do(e *echo.Echo, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func newLedger(t *testing.T) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return ledger.New(store, ledger.WithClock(func() time.Time { return testNow })), store
}

func openEvent(capacity *int) model.Event {
	return model.Event{
		Name:          "Go meetup",
		StartsAt:      testNow.Add(48 * time.Hour),
		DurationHours: 2,
		RegStartsAt:   testNow.Add(-24 * time.Hour),
		Capacity:      capacity,
		Status:        model.EventStatusOpen,
	}
}

// withLogger puts log on every request context, where handlers find it
// through zerolog.Ctx.
func withLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(log.WithContext(c.Request().Context())))
			return next(c)
		}
	}
}

func registrationRoutes(e *echo.Echo, h *RegistrationHandler, uid uint64) {
	g := e.Group("/v1", as(uid, model.RoleUser))
	g.POST("/events/:id/register", h.Register)
	g.DELETE("/events/:id/register", h.Cancel)
	g.GET("/events/:id/count", h.Count)
	g.POST("/events/:id/rate", h.Rate)
	g.GET("/events/:id/registrations", h.ListForEvent)
	g.POST("/events/:id/checkin", h.CheckIn)
	g.GET("/events/:id/attendance", h.Attendance)
}

func TestRegistrationStatusMapping(t *testing.T) {
	l, store := newLedger(t)
	ev := store.PutEvent(openEvent(intPtr(1)))
	db, _ := newMockDB(t)
	h := NewRegistrationHandler(l, repository.NewEventRepo(db), repository.NewRegistrationRepo(db))

	alice, bob := newEcho(), newEcho()
	registrationRoutes(alice, h, 1)
	registrationRoutes(bob, h, 2)
	path := "/v1/events/1/register"
	require.Equal(t, uint64(1), ev.ID)

	rec := do(alice, http.MethodPost, path, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.RegistrationActive, decode(t, rec)["status"])

	cases := []struct {
		name   string
		e      *echo.Echo
		method string
		path   string
		status int
		code   string
	}{
		{"full", bob, http.MethodPost, path, http.StatusConflict, "event_full"},
		{"again", alice, http.MethodPost, path, http.StatusConflict, "already_registered"},
		{"unknown event", alice, http.MethodPost, "/v1/events/99/register", http.StatusNotFound, "event_not_found"},
		{"cancel without registration", bob, http.MethodDelete, path, http.StatusConflict, "not_registered"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(tc.e, tc.method, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec)["code"])
		})
	}

	rec = do(alice, http.MethodGet, "/v1/events/1/count", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["active_count"])

	rec = do(alice, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RegistrationCancelled, decode(t, rec)["status"])

	// freed place goes to bob
	assert.Equal(t, http.StatusCreated, do(bob, http.MethodPost, path, "").Code)

	assert.Equal(t, http.StatusBadRequest, do(alice, http.MethodPost, "/v1/events/abc/register", "").Code)
}

func TestRate(t *testing.T) {
	l, store := newLedger(t)
	store.PutEvent(openEvent(nil))
	db, _ := newMockDB(t)
	h := NewRegistrationHandler(l, repository.NewEventRepo(db), repository.NewRegistrationRepo(db))
	e := newEcho()
	registrationRoutes(e, h, 4)

	rec := do(e, http.MethodPost, "/v1/events/1/rate", `{"score":4}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_registered", decode(t, rec)["code"])

	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/events/1/register", "").Code)

	rec = do(e, http.MethodPost, "/v1/events/1/rate", `{"score":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_score", decode(t, rec)["code"])

	rec = do(e, http.MethodPost, "/v1/events/1/rate", `{"review":"no score"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "score")

	rec = do(e, http.MethodPost, "/v1/events/1/rate", `{"score":4.26,"review":"<b>great</b>"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 4.3, body["score"])
	assert.Equal(t, "great", body["review"])
}

type downStore struct{}

func (downStore) WithEvent(context.Context, uint64, func(context.Context, ledger.Tx) error) error {
	return ledger.Unavailable(ledger.OpAdmit, errors.New("connection refused"))
}

func (downStore) ActiveCount(context.Context, uint64) (int, error) {
	return 0, errors.New("boom")
}

func TestLedgerFailuresAreNotLeaked(t *testing.T) {
	db, _ := newMockDB(t)
	h := NewRegistrationHandler(ledger.New(downStore{}), repository.NewEventRepo(db), repository.NewRegistrationRepo(db))
	e := newEcho()
	registrationRoutes(e, h, 1)

	rec := do(e, http.MethodPost, "/v1/events/1/register", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "please try again", decode(t, rec)["error"])

	rec = do(e, http.MethodGet, "/v1/events/1/count", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestListForEventRequiresOwner(t *testing.T) {
	l, _ := newLedger(t)
	db, mock := newMockDB(t)
	h := NewRegistrationHandler(l, repository.NewEventRepo(db), repository.NewRegistrationRepo(db))
	e := newEcho()
	registrationRoutes(e, h, 5)

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(9))
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/v1/events/1/registrations", "").Code)

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(2).WillReturnError(sql.ErrNoRows)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/v1/events/2/registrations", "").Code)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/events/1/registrations?status=maybe", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/v1/events/1/registrations?attended=maybe", "").Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckIn(t *testing.T) {
	l, store := newLedger(t)
	ev := store.PutEvent(openEvent(nil))
	paid := openEvent(nil)
	paid.HasFee, paid.FeeCents = true, 1500
	paidEv := store.PutEvent(paid)
	r1, err := l.Admit(context.Background(), ev.ID, 1)
	require.NoError(t, err)
	r2, err := l.Admit(context.Background(), paidEv.ID, 1)
	require.NoError(t, err)

	db, mock := newMockDB(t)
	h := NewRegistrationHandler(l, repository.NewEventRepo(db), repository.NewRegistrationRepo(db))
	e := newEcho()
	registrationRoutes(e, h, 5)
	owned := func(eventID uint64) {
		mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(eventID).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))
	}
	checkin := func(eventID uint64, ticket string) *httptest.ResponseRecorder {
		path := "/v1/events/" + strconv.FormatUint(eventID, 10) + "/checkin"
		return do(e, http.MethodPost, path, `{"ticket_id":"`+ticket+`"}`)
	}

	owned(ev.ID)
	rec := checkin(ev.ID, r1.TicketID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["is_attended"])

	owned(ev.ID)
	rec = checkin(ev.ID, r1.TicketID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_checked_in", decode(t, rec)["code"])

	owned(ev.ID)
	rec = checkin(ev.ID, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ticket_not_found", decode(t, rec)["code"])

	owned(paidEv.ID)
	rec = checkin(paidEv.ID, r2.TicketID)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "payment_required", decode(t, rec)["code"])

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(ev.ID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(9))
	assert.Equal(t, http.StatusForbidden, checkin(ev.ID, r1.TicketID).Code)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/events/1/checkin", `{}`).Code)
	require.NoError(t, mock.ExpectationsWereMet())

	for _, r := range store.Registrations(paidEv.ID) {
		assert.False(t, r.IsAttended)
	}
}

func TestAttendance(t *testing.T) {
	l, _ := newLedger(t)
	db, mock := newMockDB(t)
	h := NewRegistrationHandler(l, repository.NewEventRepo(db), repository.NewRegistrationRepo(db))
	e := newEcho()
	registrationRoutes(e, h, 5)

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))
	mock.ExpectQuery("SUM\\(is_attended\\)").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"n", "attended"}).AddRow(3, 1))

	rec := do(e, http.MethodGet, "/v1/events/1/attendance", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["active"])
	assert.Equal(t, float64(1), body["attended"])
	assert.Equal(t, float64(2), body["absent"])
	assert.Equal(t, 0.333, body["attendance_rate"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEventCapacityBelowActive(t *testing.T) {
	l, store := newLedger(t)
	ev := openEvent(intPtr(5))
	ev.ActiveCount = 3
	store.PutEvent(ev)

	db, mock := newMockDB(t)
	h := NewEventHandler(repository.NewEventRepo(db), repository.NewClubRepo(db), repository.NewOrgRepo(db), l)
	h.Now = func() time.Time { return testNow }
	e := newEcho()
	e.PATCH("/v1/events/:id", h.Update, as(5, model.RoleClub))

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))

	rec := do(e, http.MethodPatch, "/v1/events/1", `{"capacity":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_below_active", decode(t, rec)["code"])
	require.NoError(t, mock.ExpectationsWereMet())

	stored, _ := store.Event(1)
	assert.Equal(t, 5, *stored.Capacity)
}

// interestFailStore stages every event update and then fails it, the way
// a lost connection during the interest rewrite would.
type interestFailStore struct{ *ledger.MemoryStore }

type interestFailTx struct{ ledger.Tx }

func (t interestFailTx) UpdateEvent(ctx context.Context, p model.EventPatch) error {
	if err := t.Tx.UpdateEvent(ctx, p); err != nil {
		return err
	}
	return ledger.Unavailable("replace interests", mysql.ErrInvalidConn)
}

func (s interestFailStore) WithEvent(ctx context.Context, eventID uint64, fn func(context.Context, ledger.Tx) error) error {
	return s.MemoryStore.WithEvent(ctx, eventID, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, interestFailTx{tx})
	})
}

func TestUpdateEventFailureKeepsCapacity(t *testing.T) {
	mem := ledger.NewMemoryStore()
	l := ledger.New(interestFailStore{mem}, ledger.WithClock(func() time.Time { return testNow }))
	mem.PutEvent(openEvent(intPtr(5)))

	db, mock := newMockDB(t)
	h := NewEventHandler(repository.NewEventRepo(db), repository.NewClubRepo(db), repository.NewOrgRepo(db), l)
	h.Now = func() time.Time { return testNow }
	e := newEcho()
	e.PATCH("/v1/events/:id", h.Update, as(5, model.RoleClub))

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))

	rec := do(e, http.MethodPatch, "/v1/events/1", `{"capacity":2,"name":"Renamed"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.NoError(t, mock.ExpectationsWereMet())

	stored, _ := mem.Event(1)
	assert.Equal(t, 5, *stored.Capacity)
	assert.Equal(t, "Go meetup", stored.Name)
}

func TestUpdateEventAppliesFieldsAndCapacity(t *testing.T) {
	l, store := newLedger(t)
	store.PutEvent(openEvent(intPtr(5)))

	db, mock := newMockDB(t)
	h := NewEventHandler(repository.NewEventRepo(db), repository.NewClubRepo(db), repository.NewOrgRepo(db), l)
	h.Now = func() time.Time { return testNow }
	e := newEcho()
	e.PATCH("/v1/events/:id", h.Update, as(5, model.RoleClub))

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))
	mock.ExpectQuery("SELECT (.+) FROM events WHERE id = \\?").WithArgs(1).
		WillReturnRows(eventRow(1, 8, 0))
	mock.ExpectQuery("SELECT c.name").WithArgs(1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"name", "avg", "n"}).AddRow("Gophers", 0, 0))
	mock.ExpectQuery("SELECT interest_id FROM event_interests").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"interest_id"}))

	rec := do(e, http.MethodPatch, "/v1/events/1", `{"capacity":8,"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())

	stored, _ := store.Event(1)
	assert.Equal(t, 8, *stored.Capacity)
	assert.Equal(t, "Renamed", stored.Name)

	// the fee is frozen once someone holds a place
	_, err := l.Admit(context.Background(), 1, 7)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))
	rec = do(e, http.MethodPatch, "/v1/events/1", `{"has_fee":true,"fee_cents":900}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "fee_locked", decode(t, rec)["code"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEventForbidden(t *testing.T) {
	l, _ := newLedger(t)
	db, mock := newMockDB(t)
	h := NewEventHandler(repository.NewEventRepo(db), repository.NewClubRepo(db), repository.NewOrgRepo(db), l)
	e := newEcho()
	e.PATCH("/v1/events/:id", h.Update, as(5, model.RoleClub))

	mock.ExpectQuery("SELECT c.owner_id FROM events").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(6))
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPatch, "/v1/events/1", `{"name":"x"}`).Code)

	rec := do(e, http.MethodPatch, "/v1/events/1", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "oneof=open closed", decode(t, rec)["fields"].(map[string]any)["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEventValidation(t *testing.T) {
	l, _ := newLedger(t)
	db, mock := newMockDB(t)
	h := NewEventHandler(repository.NewEventRepo(db), repository.NewClubRepo(db), repository.NewOrgRepo(db), l)
	h.Now = func() time.Time { return testNow }
	e := newEcho()
	e.POST("/v1/events", h.Create, as(5, model.RoleClub))

	starts := testNow.Add(72 * time.Hour).Format(time.RFC3339)
	cases := map[string]string{
		"missing start":     `{"club_id":1,"name":"Meetup","duration_hours":2}`,
		"negative capacity": `{"club_id":1,"name":"Meetup","duration_hours":2,"starts_at":"` + starts + `","capacity":-1}`,
		"fee without cents": `{"club_id":1,"name":"Meetup","duration_hours":2,"starts_at":"` + starts + `","has_fee":true}`,
		"zero duration":     `{"club_id":1,"name":"Meetup","starts_at":"` + starts + `"}`,
		"markup only name":  `{"club_id":1,"name":"<b></b>","duration_hours":2,"starts_at":"` + starts + `"}`,
		"window after end":  `{"club_id":1,"name":"Meetup","duration_hours":2,"starts_at":"` + starts + `","reg_ends_at":"2030-01-01T00:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/events", body).Code)
		})
	}

	// someone else's club
	mock.ExpectQuery("FROM clubs WHERE id = \\?").WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "org_id", "slug", "name", "about", "location_name",
			"contact_email", "contact_phone", "rating", "total_ratings", "created_at", "updated_at"}).
			AddRow(1, 9, nil, "gophers", "Gophers", "", "", "", "", 0.0, 0, testNow, testNow))
	rec := do(e, http.MethodPost, "/v1/events", `{"club_id":1,"name":"Meetup","duration_hours":2,"starts_at":"`+starts+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterAndLogin(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := config.Config{JWTSecret: "s3cret", AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}
	h := NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db))
	e := newEcho()
	e.POST("/v1/auth/register", h.Register)
	e.POST("/v1/auth/login", h.Login)

	rec := do(e, http.MethodPost, "/v1/auth/register", `{"email":"nope","password":"short","full_name":"A"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Equal(t, "email", fields["email"])
	assert.Equal(t, "min=8", fields["password"])

	rec = do(e, http.MethodPost, "/v1/auth/register", `{"email":"a@b.io","password":"longenough","full_name":"Ann","role":"ADMIN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("ann@example.com", "Ann", sqlmock.AnyArg(), model.RoleClub).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(7, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	rec = do(e, http.MethodPost, "/v1/auth/register", `{"email":"Ann@Example.com","password":"longenough","full_name":"Ann","role":"club"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	user := body["user"].(map[string]any)
	assert.Equal(t, "ann@example.com", user["email"])
	assert.Equal(t, model.RoleClub, user["role"])
	assert.NotEmpty(t, body["access"].(map[string]any)["token"])

	mock.ExpectQuery("FROM users WHERE email=").WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)
	rec = do(e, http.MethodPost, "/v1/auth/login", `{"email":"ghost@example.com","password":"whatever1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshRejectsRedeemedToken(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewAuthHandler(config.Config{JWTSecret: "s", RefreshTTLDays: 7}, repository.NewUserRepo(db), repository.NewTokenRepo(db))
	e := newEcho()
	e.POST("/v1/auth/refresh", h.Refresh)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM refresh_tokens WHERE token_hash=\\? LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).
			AddRow(3, time.Now().Add(time.Hour), time.Now()))
	mock.ExpectRollback()

	rec := do(e, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"abc"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/auth/refresh", `{}`).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentWebhook(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewPaymentHandler(repository.NewPaymentRepo(db), repository.NewEventRepo(db),
		repository.NewRegistrationRepo(db), repository.NewNotificationRepo(db), "hook-secret")
	var logs bytes.Buffer
	e := newEcho()
	e.Use(withLogger(zerolog.New(&logs)))
	e.POST("/v1/payments/webhook", h.Webhook)

	const orderID = "6f1c1b5e-1f7b-4a53-9d2e-0d8d3f1a2b3c"
	body := `{"order_id":"` + orderID + `","status":"paid","provider_ref":"gw-1"}`

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodPost, "/v1/payments/webhook", body).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(e, http.MethodPost, "/v1/payments/webhook", body, WebhookSecretHeader, "hook-secreT").Code)

	payCols := []string{"id", "registration_id", "user_id", "amount_cents", "currency", "status", "provider_ref", "created_at", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("FROM payment_orders WHERE id = \\? FOR UPDATE").WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(payCols).AddRow(orderID, 11, 4, 1500, "USD", model.PaymentCreated, nil, testNow, testNow))
	mock.ExpectExec("UPDATE payment_orders SET status").WithArgs(model.PaymentPaid, "gw-1", orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE registrations SET is_paid = 1").WithArgs(11).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("FROM registrations WHERE id = \\?").WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "ticket_id", "status", "is_paid", "created_at", "cancelled_at",
			"is_attended", "attended_on"}).
			AddRow(11, 2, 4, "t-1", model.RegistrationActive, true, testNow, nil, false, nil))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(4, model.NotificationPaymentSucceeded, "Payment received", "", 2, model.NotificationUnread).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := do(e, http.MethodPost, "/v1/payments/webhook", body, WebhookSecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.PaymentPaid, decode(t, rec)["status"])

	// the gateway retries the same callback: no second notification
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(payCols).AddRow(orderID, 11, 4, 1500, "USD", model.PaymentPaid, "gw-1", testNow, testNow))
	mock.ExpectRollback()
	logs.Reset()
	rec = do(e, http.MethodPost, "/v1/payments/webhook", body, WebhookSecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.PaymentPaid, decode(t, rec)["status"])
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, logs.String(), "payment callback replayed")
	assert.NotContains(t, logs.String(), "notification")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(payCols).AddRow(orderID, 11, 4, 1500, "USD", model.PaymentPaid, "gw-1", testNow, testNow))
	mock.ExpectRollback()
	failed := `{"order_id":"` + orderID + `","status":"failed"}`
	assert.Equal(t, http.StatusConflict,
		do(e, http.MethodPost, "/v1/payments/webhook", failed, WebhookSecretHeader, "hook-secret").Code)
	require.NoError(t, mock.ExpectationsWereMet())

	h.WebhookSecret = ""
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, "/v1/payments/webhook", body).Code)
}

func TestMarkReadOtherUsersNotification(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewNotificationHandler(repository.NewNotificationRepo(db))
	e := newEcho()
	e.POST("/v1/notifications/:id/read", h.MarkRead, as(2, model.RoleUser))

	mock.ExpectQuery("SELECT user_id FROM notifications").WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3))
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPost, "/v1/notifications/8/read", "").Code)

	mock.ExpectQuery("SELECT user_id FROM notifications").WithArgs(9).WillReturnError(sql.ErrNoRows)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, "/v1/notifications/9/read", "").Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrgRejectsUnknownType(t *testing.T) {
	db, _ := newMockDB(t)
	h := NewOrgHandler(repository.NewOrgRepo(db))
	e := newEcho()
	e.POST("/v1/orgs", h.CreateOrg)

	rec := do(e, http.MethodPost, "/v1/orgs", `{"name":"MIT","type":"guild"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "university")
}

func TestCreateClubSlugRules(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewClubHandler(repository.NewClubRepo(db), repository.NewOrgRepo(db))
	e := newEcho()
	e.POST("/v1/clubs", h.Create, as(5, model.RoleClub))

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/v1/clubs", `{"slug":"bad slug!","name":"Gophers"}`).Code)

	mock.ExpectExec("INSERT INTO clubs").WithArgs(5, sqlmock.AnyArg(), "go-pher", "Gophers", "", "", "", "").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'go-pher'"})
	assert.Equal(t, http.StatusConflict, do(e, http.MethodPost, "/v1/clubs", `{"slug":"Go-Pher","name":"Gophers"}`).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthAndReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	e := newEcho()
	e.GET("/healthz", Health)
	e.GET("/readyz", (&ReadyHandler{DB: db}).Ready)

	assert.Equal(t, "ok", do(e, http.MethodGet, "/healthz", "").Body.String())

	mock.ExpectPing()
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/readyz", "").Code)
	mock.ExpectPing().WillReturnError(errors.New("down"))
	rec := do(e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["database"])
}
