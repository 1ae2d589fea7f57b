package handler

import (
	"strings"

	"ai-booking-caller-be/internal/dto"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/internal/service"
	"ai-booking-caller-be/pkg/dialog"
	"ai-booking-caller-be/pkg/voicescript"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// TelephonyHandler serves the provider's voice webhooks. Every response is
// a voice script: failures are spoken, never returned as HTTP errors, so the
// call always has an instruction to follow.
type TelephonyHandler struct {
	service   service.ICallService
	validator serverutils.RequestValidator
	baseURL   string
	voice     string
	language  string
	logger    logger.ILogger
}

// NewTelephonyHandler builds the handler. validator may be nil to accept
// unsigned webhooks (local development).
func NewTelephonyHandler(svc service.ICallService, validator serverutils.RequestValidator, baseURL, voice, language string, log logger.ILogger) *TelephonyHandler {
	return &TelephonyHandler{
		service:   svc,
		validator: validator,
		baseURL:   strings.TrimRight(baseURL, "/"),
		voice:     voice,
		language:  language,
		logger:    log,
	}
}

func (h *TelephonyHandler) RegisterRoutes(router fiber.Router) {
	tel := router.Group("/telephony")
	if h.validator != nil {
		tel.Use(serverutils.TwilioSignatureMiddleware(h.validator, h.baseURL))
	}
	tel.Post("/initiate/:id", h.Initiate)
	tel.Post("/stream/:id", h.InitiateStream)
	tel.Post("/turn/:id", h.HandleTurn)
	tel.Post("/confirm/:id", h.HandleConfirmation)
	tel.Post("/status/:id", h.HandleStatus)
}

func (h *TelephonyHandler) Initiate(c *fiber.Ctx) error {
	id, ok := h.callID(c)
	if !ok {
		return h.render(c, uuid.Nil, systemError())
	}
	return h.render(c, id, h.service.Initiate(c.UserContext(), id))
}

func (h *TelephonyHandler) InitiateStream(c *fiber.Ctx) error {
	id, ok := h.callID(c)
	if !ok {
		return h.render(c, uuid.Nil, systemError())
	}
	return h.render(c, id, h.service.InitiateStream(c.UserContext(), id))
}

func (h *TelephonyHandler) HandleTurn(c *fiber.Ctx) error {
	id, ok := h.callID(c)
	if !ok {
		return h.render(c, uuid.Nil, systemError())
	}
	return h.render(c, id, h.service.HandleTurn(c.UserContext(), id, h.turnInput(c)))
}

func (h *TelephonyHandler) HandleConfirmation(c *fiber.Ctx) error {
	id, ok := h.callID(c)
	if !ok {
		return h.render(c, uuid.Nil, systemError())
	}
	return h.render(c, id, h.service.HandleConfirmation(c.UserContext(), id, h.turnInput(c)))
}

func (h *TelephonyHandler) HandleStatus(c *fiber.Ctx) error {
	id, ok := h.callID(c)
	if !ok {
		return h.render(c, uuid.Nil, voicescript.New(voicescript.Hangup()))
	}

	var req dto.TelephonyWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warn("TelephonyHandler", "Unreadable status callback", map[string]interface{}{"call_id": id, "error": err.Error()})
	}
	return h.render(c, id, h.service.HandleStatus(c.UserContext(), id, req.CallStatus, req.AnsweredBy))
}

func (h *TelephonyHandler) callID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		h.logger.Warn("TelephonyHandler", "Webhook with invalid call id", map[string]interface{}{"id": c.Params("id"), "path": c.Path()})
		return uuid.Nil, false
	}
	return id, true
}

func (h *TelephonyHandler) turnInput(c *fiber.Ctx) dialog.TurnInput {
	var req dto.TelephonyWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warn("TelephonyHandler", "Unreadable webhook body", map[string]interface{}{"path": c.Path(), "error": err.Error()})
	}
	return dialog.TurnInput{
		Transcript: req.SpeechResult,
		TimedOut:   c.QueryBool(voicescript.TimedOutParam, false),
	}
}

func (h *TelephonyHandler) render(c *fiber.Ctx, id uuid.UUID, script voicescript.Script) error {
	renderer := voicescript.Renderer{
		Voice:    h.voice,
		Language: h.language,
		Resolve: func(action string) string {
			return h.baseURL + service.WebhookPath(action, id)
		},
	}

	body, err := renderer.Render(script)
	if err != nil {
		h.logger.Error("TelephonyHandler", "Failed to render voice script", map[string]interface{}{"call_id": id, "error": err.Error()})
		body, err = renderer.Render(systemError())
		if err != nil {
			return err
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.SendString(body)
}

func systemError() voicescript.Script {
	return voicescript.New(voicescript.Say(dialog.LineSystemError), voicescript.Hangup())
}
