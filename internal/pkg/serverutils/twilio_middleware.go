package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequestValidator checks a provider webhook signature.
type RequestValidator interface {
	Validate(fullURL string, params map[string]string, signature string) bool
}

// TwilioSignatureMiddleware rejects webhooks whose X-Twilio-Signature does
// not match. baseURL is the public origin the provider was given, since the
// signature covers the URL as the provider saw it.
func TwilioSignatureMiddleware(v RequestValidator, baseURL string) fiber.Handler {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(ctx *fiber.Ctx) error {
		params := map[string]string{}
		ctx.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		fullURL := baseURL + string(ctx.Request().URI().RequestURI())
		if !v.Validate(fullURL, params, ctx.Get("X-Twilio-Signature")) {
			return ctx.Status(fiber.StatusForbidden).JSON(ErrorResponse(fiber.StatusForbidden, "Invalid signature"))
		}
		return ctx.Next()
	}
}
