package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveAction(t *testing.T) {
	before := testutil.ToFloat64(FormActionsTotal.WithLabelValues("add_rule", "error"))
	ObserveAction("add_rule", errors.New("x"))
	ObserveAction("add_rule", nil)
	require.Equal(t, before+1, testutil.ToFloat64(FormActionsTotal.WithLabelValues("add_rule", "error")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sessions/{sid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.CollectAndCount(HTTPRequestDuration)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, before+1, testutil.CollectAndCount(HTTPRequestDuration))
}
