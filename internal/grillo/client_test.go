package grillo

import (
	"errors"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

func newLab(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAdminClientSendsBearerWithoutUID(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, "/locations/default", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("uid"))
		writeJSON(w, http.StatusOK, map[string]any{
			"name":   "Lab",
			"people": []map[string]any{{"name": "Alice"}},
			"bookings": []map[string]any{
				{"startTime": 1700000000, "userName": "bob"},
			},
		})
	})

	admin := NewAdminClient(srv.URL+"/", testToken, srv.Client())
	loc, err := admin.Location(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Lab", loc.Name)
	require.Len(t, loc.People, 1)
	assert.Equal(t, "Alice", loc.People[0].Name)
	require.Len(t, loc.Bookings, 1)
	assert.Nil(t, loc.Bookings[0].EndTime)
	assert.Equal(t, "bob", loc.Bookings[0].UserName)
}

func TestUserByTelegramID(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("telegram_id") {
		case "42":
			writeJSON(w, http.StatusOK, Account{ID: "u1", Name: "User One", Groups: []string{"members"}})
		case "43":
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		case "44":
			writeJSON(w, http.StatusOK, nil)
		default:
			writeJSON(w, http.StatusNotFound, nil)
		}
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())
	ctx := context.Background()

	acc, err := admin.UserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "u1", acc.ID)
	assert.False(t, acc.IsAdmin())

	for _, id := range []int64{43, 44, 45} {
		_, err := admin.UserByTelegramID(ctx, id)
		assert.ErrorIs(t, err, ErrAccountNotFound, "telegram id %d", id)
		assert.False(t, IsNetwork(err))
	}
}

func TestScopedClientCarriesUID(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("uid"))
		switch r.URL.Path {
		case "/user":
			writeJSON(w, http.StatusOK, Account{ID: "u1", Name: "User One", Groups: []string{AdminGroup}})
		case "/locations/room%20b", "/locations/room b":
			writeJSON(w, http.StatusOK, Location{Name: "Room B"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Location not found"})
		}
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())
	ctx := context.Background()

	uc, err := admin.Scope(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", uc.Account().ID)
	assert.True(t, uc.IsAdmin())

	loc, err := uc.Location(ctx, "room b")
	require.NoError(t, err)
	assert.Equal(t, "Room B", loc.Name)

	_, err = uc.Location(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrLocationNotFound)
}

func TestScopeRejectsMismatchedAccount(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Account{ID: "someone-else"})
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())

	_, err := admin.Scope(context.Background(), "u1")
	require.Error(t, err)
}

func TestScopeUnknownAccount(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "User not found"})
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())

	_, err := admin.Scope(context.Background(), "gone")
	require.ErrorIs(t, err, ErrAccountNotFound)
	var se *ServiceError
	assert.False(t, errors.As(err, &se))
}

func TestClockIn(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/audits", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["login"])
		assert.Equal(t, "u1", body["user"])
		if loc, ok := body["location"]; ok {
			assert.Equal(t, "roomB", loc)
			writeJSON(w, http.StatusOK, map[string]string{"location": "Room B"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"location": "Lab"})
	})
	uc := NewAdminClient(srv.URL, testToken, srv.Client()).As(Account{ID: "u1"})
	ctx := context.Background()

	res, err := uc.ClockIn(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Lab", res.Location)

	res, err = uc.ClockIn(ctx, "roomB")
	require.NoError(t, err)
	assert.Equal(t, "Room B", res.Location)
}

func TestClockInSwitchWithoutSummary(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Must provide summary when switching location"})
	})
	uc := NewAdminClient(srv.URL, testToken, srv.Client()).As(Account{ID: "u1"})

	_, err := uc.ClockIn(context.Background(), "roomB")
	assert.ErrorIs(t, err, ErrAlreadyClockedIn)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestClockInForRequiresAdmin(t *testing.T) {
	t.Parallel()

	srv, calls := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		var body clockInReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "U1", body.User)
		assert.Equal(t, "roomB", body.Location)
		assert.Equal(t, "A", r.URL.Query().Get("uid"))
		writeJSON(w, http.StatusOK, map[string]string{"location": "roomB"})
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())
	ctx := context.Background()

	plain := admin.As(Account{ID: "A", Groups: []string{"members"}})
	_, err := plain.ClockInFor(ctx, "U1", "roomB")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))

	boss := admin.As(Account{ID: "A", Groups: []string{"members", AdminGroup}})
	res, err := boss.ClockInFor(ctx, "U1", "roomB")
	require.NoError(t, err)
	assert.Equal(t, "roomB", res.Location)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClockOut(t *testing.T) {
	t.Parallel()

	srv, calls := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body clockOutReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Logout)
		assert.Equal(t, "u1", body.User)
		if body.Summary == "nothing open" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No active audit found for user"})
			return
		}
		assert.Equal(t, "fixed the printer", body.Summary)
		writeJSON(w, http.StatusOK, []Audit{{StartTime: 0, EndTime: 3661}})
	})
	uc := NewAdminClient(srv.URL, testToken, srv.Client()).As(Account{ID: "u1"})
	ctx := context.Background()

	_, err := uc.ClockOut(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptySummary)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))

	audit, err := uc.ClockOut(ctx, " fixed the printer ")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+time.Minute+time.Second, audit.Duration())

	_, err = uc.ClockOut(ctx, "nothing open")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestTransportClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv, _ := newLab(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/locations/garbage":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>not json</html>"))
		case "/locations/bad-gateway":
			w.WriteHeader(http.StatusBadGateway)
		case "/locations/ok-with-error":
			writeJSON(w, http.StatusOK, map[string]string{"error": "Location not found"})
		case "/locations/teapot":
			writeJSON(w, http.StatusTeapot, map[string]string{"error": "Something unusual"})
		}
	})
	admin := NewAdminClient(srv.URL, testToken, srv.Client())
	ctx := context.Background()

	_, err := admin.Location(ctx, "garbage")
	assert.True(t, IsNetwork(err))

	_, err = admin.Location(ctx, "bad-gateway")
	assert.True(t, IsNetwork(err))

	_, err = admin.Location(ctx, "ok-with-error")
	assert.ErrorIs(t, err, ErrLocationNotFound)
	assert.False(t, IsNetwork(err))

	_, err = admin.Location(ctx, "teapot")
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Something unusual", se.Message)
	assert.NotErrorIs(t, err, ErrLocationNotFound)
}

func TestTransportConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	admin := NewAdminClient(url, testToken, &http.Client{Timeout: time.Second})
	_, err := admin.UserByTelegramID(context.Background(), 1)
	assert.True(t, IsNetwork(err))
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestAuditDurationClampsNegative(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), Audit{StartTime: 10, EndTime: 5}.Duration())
	assert.Equal(t, 59*time.Second, Audit{StartTime: 0, EndTime: 59}.Duration())
}
