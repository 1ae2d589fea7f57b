package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"ai-booking-caller-be/internal/dto"
	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/voicescript"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallService struct {
	lastInput  dialog.TurnInput
	lastStatus string
	lastBy     string
	script     voicescript.Script
}

func (f *fakeCallService) PlaceCall(ctx context.Context, userID uuid.UUID, req *dto.PlaceCallRequest) (*dto.CallSessionResponse, error) {
	return nil, nil
}

func (f *fakeCallService) GetCall(ctx context.Context, userID, id uuid.UUID) (*dto.CallSessionResponse, error) {
	return nil, nil
}

func (f *fakeCallService) ListCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.CallSessionResponse, int64, error) {
	return nil, 0, nil
}

func (f *fakeCallService) Initiate(ctx context.Context, id uuid.UUID) voicescript.Script {
	return f.script
}

func (f *fakeCallService) InitiateStream(ctx context.Context, id uuid.UUID) voicescript.Script {
	return f.script
}

func (f *fakeCallService) HandleTurn(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script {
	f.lastInput = in
	return f.script
}

func (f *fakeCallService) HandleConfirmation(ctx context.Context, id uuid.UUID, in dialog.TurnInput) voicescript.Script {
	f.lastInput = in
	return f.script
}

func (f *fakeCallService) HandleStatus(ctx context.Context, id uuid.UUID, status, answeredBy string) voicescript.Script {
	f.lastStatus, f.lastBy = status, answeredBy
	return voicescript.New(voicescript.Hangup())
}

func (f *fakeCallService) AttachStream(ctx context.Context, id uuid.UUID) (*entity.CallSession, error) {
	return nil, nil
}

func (f *fakeCallService) ConcludeStream(ctx context.Context, id uuid.UUID, transcript []entity.TranscriptEntry) {
}

type rejectAll struct{}

func (rejectAll) Validate(string, map[string]string, string) bool { return false }

func newTelephonyApp(svc *fakeCallService, validator serverutils.RequestValidator) *fiber.App {
	app := fiber.New()
	h := NewTelephonyHandler(svc, validator, "https://calls.example.com", "Polly.Joanna", "en-US", logger.NewNopLogger())
	h.RegisterRoutes(app.Group("/api"))
	return app
}

func postForm(t *testing.T, app *fiber.App, target string, form url.Values) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTurnWebhookRendersGather(t *testing.T) {
	id := uuid.New()
	svc := &fakeCallService{script: voicescript.New(
		voicescript.Say("What day works?"),
		voicescript.Listen(dialog.ActionTurn, 5),
	)}
	app := newTelephonyApp(svc, nil)

	code, body := postForm(t, app, "/api/telephony/turn/"+id.String(), url.Values{"SpeechResult": {"Tomorrow at 2pm"}})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, dialog.TurnInput{Transcript: "Tomorrow at 2pm"}, svc.lastInput)

	assert.Contains(t, body, "What day works?")
	assert.Contains(t, body, `action="https://calls.example.com/api/telephony/turn/`+id.String()+`"`)
	assert.Contains(t, body, "timedOut=true")
}

func TestTimedOutQueryIsPassedThrough(t *testing.T) {
	svc := &fakeCallService{script: voicescript.New(voicescript.Hangup())}
	app := newTelephonyApp(svc, nil)

	code, body := postForm(t, app, "/api/telephony/confirm/"+uuid.NewString()+"?timedOut=true", url.Values{})
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, svc.lastInput.TimedOut)
	assert.Contains(t, body, "<Hangup")
}

func TestStatusWebhook(t *testing.T) {
	svc := &fakeCallService{}
	app := newTelephonyApp(svc, nil)

	code, _ := postForm(t, app, "/api/telephony/status/"+uuid.NewString(), url.Values{
		"CallStatus": {"completed"},
		"AnsweredBy": {"machine_start"},
	})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "completed", svc.lastStatus)
	assert.Equal(t, "machine_start", svc.lastBy)
}

func TestInvalidCallIDApologizes(t *testing.T) {
	app := newTelephonyApp(&fakeCallService{}, nil)

	code, body := postForm(t, app, "/api/telephony/initiate/not-a-uuid", url.Values{})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, "something went wrong")
	assert.Contains(t, body, "<Hangup")
}

func TestUnsignedWebhookRejected(t *testing.T) {
	svc := &fakeCallService{script: voicescript.New(voicescript.Hangup())}
	app := newTelephonyApp(svc, rejectAll{})

	code, _ := postForm(t, app, "/api/telephony/initiate/"+uuid.NewString(), url.Values{})
	assert.Equal(t, fiber.StatusForbidden, code)
}
