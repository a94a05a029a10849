package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/chipdesk/pkg/logging"
)

func TestHandlerReportsDownWhenAnyCheckFails(t *testing.T) {
	registry := NewRegistry(logging.Nop())
	registry.Register("api", ServiceChecker("api", func(ctx context.Context) error { return nil }))
	registry.Register("redis", DependencyChecker("redis", "localhost:6379", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status Status                            `json:"status"`
		Checks map[string]map[string]interface{} `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, StatusDown, body.Status)
	assert.Equal(t, "UP", body.Checks["api"]["status"])
	assert.Equal(t, "connection refused", body.Checks["redis"]["error"])
}

func TestOverall(t *testing.T) {
	assert.Equal(t, StatusUp, Overall(map[string]Check{"a": {Status: StatusUp}}))
	assert.Equal(t, StatusUnknown, Overall(map[string]Check{"a": {Status: StatusUp}, "b": {Status: StatusUnknown}}))
	assert.Equal(t, StatusDown, Overall(map[string]Check{"a": {Status: StatusUnknown}, "b": {Status: StatusDown}}))
}
