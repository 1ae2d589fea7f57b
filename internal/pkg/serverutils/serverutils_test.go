package serverutils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	gotURL    string
	gotParams map[string]string
	ok        bool
}

func (f *fakeValidator) Validate(fullURL string, params map[string]string, signature string) bool {
	f.gotURL = fullURL
	f.gotParams = params
	return f.ok && signature != ""
}

func TestTwilioSignatureMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		ok         bool
		signature  string
		wantStatus int
	}{
		{"valid", true, "sig", fiber.StatusOK},
		{"mismatch", false, "sig", fiber.StatusForbidden},
		{"missing header", true, "", fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeValidator{ok: tt.ok}
			app := fiber.New()
			app.Post("/api/telephony/turn/:id", TwilioSignatureMiddleware(v, "https://calls.example.com/"), func(c *fiber.Ctx) error {
				return c.SendString("ok")
			})

			form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"Tuesday"}}
			req := httptest.NewRequest(http.MethodPost, "/api/telephony/turn/abc?timedOut=true", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set("X-Twilio-Signature", tt.signature)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "https://calls.example.com/api/telephony/turn/abc?timedOut=true", v.gotURL)
			assert.Equal(t, "Tuesday", v.gotParams["SpeechResult"])
		})
	}
}

func TestValidateRequestAndErrorHandler(t *testing.T) {
	type request struct {
		Phone string `json:"phone" validate:"required,e164"`
	}

	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Post("/", func(c *fiber.Ctx) error {
		var req request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := ValidateRequest(req); err != nil {
			return err
		}
		return c.JSON(SuccessResponse("ok", req))
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"555"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var envelope BaseResponse[any]
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Message, "Phone failed on 'e164'")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"+15550100"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
