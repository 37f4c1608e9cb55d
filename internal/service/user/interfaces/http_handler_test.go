package interfaces

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"monat/internal/service/user/application"
)

func newTestHandler() http.Handler {
	svc := application.NewUserApplicationService(otel.Tracer("test"))
	svc.Register(application.User{UserID: "user-1", Name: "Alice", Status: application.UserActive})
	svc.Register(application.User{UserID: "user-blocked", Name: "Mallory", Status: application.UserBlocked})

	mux := http.NewServeMux()
	NewUserHandler(svc).RegisterRoutes(mux)
	return mux
}

func validate(t *testing.T, handler http.Handler, userID string) validateUserResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/validate_user", strings.NewReader(`{"userId":"`+userID+`"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// isValid 回答用户存不存在，isActive 回答能不能下单，两个维度分开报。
func TestValidateUserResponseFields(t *testing.T) {
	handler := newTestHandler()

	active := validate(t, handler, "user-1")
	assert.True(t, active.IsValid)
	assert.True(t, active.IsActive)
	assert.Empty(t, active.Message)

	blocked := validate(t, handler, "user-blocked")
	assert.True(t, blocked.IsValid, "blocked user still exists")
	assert.False(t, blocked.IsActive)
	assert.Contains(t, blocked.Message, "blocked")

	unknown := validate(t, handler, "user-404")
	assert.False(t, unknown.IsValid)
	assert.False(t, unknown.IsActive)
	assert.Contains(t, unknown.Message, "not found")
}
