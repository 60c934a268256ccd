package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestHealth_HealthyWithReachableStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	s := New("127.0.0.1:0", db, "release")

	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "healthy")
}

func TestHealth_UnhealthyWhenStoreUnreachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	s := New("127.0.0.1:0", db, "release")

	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Contains(t, resp.Body.String(), "unreachable")
}

func TestHealth_NilStoreSkipsConnectivity(t *testing.T) {
	s := New("127.0.0.1:0", nil, "release")

	resp := httptest.NewRecorder()
	s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, resp.Code)
}
