package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/internal/repository/memory"
	"ai-booking-caller-be/internal/service"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/preflight"
	"ai-booking-caller-be/pkg/telephony"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type okDialer struct{}

func (okDialer) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	return "CA42", nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newCallApp(t *testing.T) *fiber.App {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)

	svc := service.NewCallService(
		memory.NewCallSessionRepository(),
		dialog.NewEngine(nil, nil, dialog.Config{}),
		okDialer{}, nil, nil, preflight.Capabilities{},
		service.CallServiceConfig{BaseURL: "https://calls.example.com"},
		logger.NewNopLogger(),
	)

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewCallController(svc).RegisterRoutes(app.Group("/api"))
	NewAdminController(logger.NewNopLogger(), nil, preflight.Capabilities{Recognition: true}).RegisterRoutes(app.Group("/api"))
	return app
}

func do(t *testing.T, app *fiber.App, method, target, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestPlaceAndFetchCall(t *testing.T) {
	app := newCallApp(t)
	token := signToken(t, jwt.MapClaims{"user_id": uuid.NewString()})

	code, res := do(t, app, "POST", "/api/calls", token, `{
		"business_name": "Bright Smiles Dental",
		"business_phone": "+15550100",
		"caller_name": "Alex Doe",
		"reason": "a cleaning"
	}`)
	require.Equal(t, fiber.StatusCreated, code)
	data := res["data"].(map[string]interface{})
	assert.Equal(t, "CA42", data["call_sid"])
	id := data["id"].(string)

	code, res = do(t, app, "GET", "/api/calls/"+id, token, "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "INITIATED", res["data"].(map[string]interface{})["state"])

	code, res = do(t, app, "GET", "/api/calls?limit=5", token, "")
	assert.Equal(t, fiber.StatusOK, code)
	meta := res["data"].(map[string]interface{})["meta"].(map[string]interface{})
	assert.EqualValues(t, 1, meta["total"])

	// Another user cannot see the call.
	other := signToken(t, jwt.MapClaims{"user_id": uuid.NewString()})
	code, _ = do(t, app, "GET", "/api/calls/"+id, other, "")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestPlaceCallValidation(t *testing.T) {
	app := newCallApp(t)
	token := signToken(t, jwt.MapClaims{"user_id": uuid.NewString()})

	code, res := do(t, app, "POST", "/api/calls", token, `{"business_name": "Clinic", "business_phone": "555"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, false, res["success"])

	code, _ = do(t, app, "POST", "/api/calls", "", `{}`)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestAdminPreflight(t *testing.T) {
	app := newCallApp(t)

	code, _ := do(t, app, "GET", "/api/admin/preflight", signToken(t, jwt.MapClaims{"user_id": uuid.NewString()}), "")
	assert.Equal(t, fiber.StatusForbidden, code)

	code, res := do(t, app, "GET", "/api/admin/preflight", signToken(t, jwt.MapClaims{"user_id": uuid.NewString(), "role": "admin"}), "")
	require.Equal(t, fiber.StatusOK, code)
	data := res["data"].(map[string]interface{})
	assert.Equal(t, "gather", data["mode"])
	assert.ElementsMatch(t, []interface{}{"synthesis", "transcoding"}, data["missing"])
}
