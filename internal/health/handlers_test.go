package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kreezus/yengapay-gateway/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func TestLive(t *testing.T) {
	h := health.Handler{}
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReady(t *testing.T) {
	cases := []struct {
		name     string
		checker  stubChecker
		wantCode int
	}{
		{"all healthy", stubChecker{}, http.StatusOK},
		{"db down", stubChecker{dbErr: errors.New("refused")}, http.StatusServiceUnavailable},
		{"redis down", stubChecker{redisErr: errors.New("refused")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := health.Handler{Checker: tc.checker}
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))

			require.Equal(t, tc.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Contains(t, body, "db")
			require.Contains(t, body, "redis")
		})
	}
}
