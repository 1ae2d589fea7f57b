package controller

import (
	"errors"
	"os"

	"ai-booking-caller-be/internal/dto"
	"ai-booking-caller-be/internal/pkg/logger"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/pkg/apperr"
	"ai-booking-caller-be/pkg/preflight"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	GetLogs(ctx *fiber.Ctx) error
	GetLogDetail(ctx *fiber.Ctx) error
	GetPreflight(ctx *fiber.Ctx) error
}

type adminController struct {
	appLogger    logger.ILogger
	mediaLogger  logger.ILogger
	capabilities preflight.Capabilities
}

func NewAdminController(appLogger, mediaLogger logger.ILogger, capabilities preflight.Capabilities) IAdminController {
	return &adminController{
		appLogger:    appLogger,
		mediaLogger:  mediaLogger,
		capabilities: capabilities,
	}
}

// Middleware to check for Admin Role
// This logic assumes JWT claims have "role": "admin"
func (c *adminController) adminMiddleware(ctx *fiber.Ctx) error {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Missing or invalid authorization header"))
	}
	tokenStr := authHeader[7:]

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || token == nil || !token.Valid {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Invalid or expired token"))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Invalid token claims"))
	}

	role, ok := claims["role"].(string)
	if !ok {
		return ctx.Status(fiber.StatusForbidden).JSON(serverutils.ErrorResponse(403, "Access denied: Role missing"))
	}
	if role != "admin" {
		return ctx.Status(fiber.StatusForbidden).JSON(serverutils.ErrorResponse(403, "Access denied: Admins only"))
	}

	if userId, exists := claims["user_id"]; exists {
		ctx.Locals("user_id", userId)
	}
	return ctx.Next()
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/admin")
	h.Use(c.adminMiddleware)

	// Logs; ?source=media reads the media stream log, ?call_id= narrows to one call
	h.Get("/logs", c.GetLogs)
	h.Get("/logs/:id", c.GetLogDetail)

	h.Get("/preflight", c.GetPreflight)
}

func (c *adminController) source(ctx *fiber.Ctx) logger.ILogger {
	if ctx.Query("source") == "media" && c.mediaLogger != nil {
		return c.mediaLogger
	}
	return c.appLogger
}

func (c *adminController) GetLogs(ctx *fiber.Ctx) error {
	page := ctx.QueryInt("page", 1)
	limit := ctx.QueryInt("limit", 10)
	filter := logger.LogFilter{
		Level:  ctx.Query("level"),
		Module: ctx.Query("module"),
		CallID: ctx.Query("call_id"),
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	entries, err := c.source(ctx).GetLogs(filter, limit, (page-1)*limit)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("System logs", entries))
}

func (c *adminController) GetLogDetail(ctx *fiber.Ctx) error {
	logId := ctx.Params("id") // Log ID is a string (MD5 hash), not UUID

	l, err := c.source(ctx).GetLogById(logId)
	if err != nil || l == nil {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "Log not found"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Log detail", l))
}

func (c *adminController) GetPreflight(ctx *fiber.Ctx) error {
	res := dto.PreflightResponse{Mode: preflight.Mode(c.capabilities)}

	var cfgErr *apperr.ConfigurationError
	if err := preflight.Check(c.capabilities); errors.As(err, &cfgErr) {
		res.Missing = cfgErr.Missing
	}
	return ctx.JSON(serverutils.SuccessResponse("Preflight", res))
}
