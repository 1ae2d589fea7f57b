package controller

import (
	"errors"

	"ai-booking-caller-be/internal/dto"
	"ai-booking-caller-be/internal/pkg/serverutils"
	"ai-booking-caller-be/internal/repository/contract"
	"ai-booking-caller-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ICallController interface {
	RegisterRoutes(r fiber.Router)
	PlaceCall(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	GetAll(ctx *fiber.Ctx) error
}

type callController struct {
	service service.ICallService
}

func NewCallController(service service.ICallService) ICallController {
	return &callController{service: service}
}

func (c *callController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/calls")
	h.Use(serverutils.JwtMiddleware)
	h.Post("", c.PlaceCall)
	h.Get("", c.GetAll)
	h.Get(":id", c.Show)
}

func (c *callController) PlaceCall(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.PlaceCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.PlaceCall(ctx.UserContext(), userId, &req)
	if err != nil {
		return callError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Call placed", res))
}

func (c *callController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid call id")
	}

	res, err := c.service.GetCall(ctx.UserContext(), userId, id)
	if err != nil {
		return callError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show call", res))
}

func (c *callController) GetAll(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	limit := ctx.QueryInt("limit", 20)
	offset := ctx.QueryInt("offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := c.service.ListCalls(ctx.UserContext(), userId, limit, offset)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get all calls", serverutils.PagedData[dto.CallSessionResponse]{
		Items: items,
		Meta:  serverutils.PageMeta{Total: total, Limit: limit, Offset: offset},
	}))
}

func callError(err error) error {
	switch {
	case errors.Is(err, contract.ErrCallSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Call not found")
	case errors.Is(err, service.ErrTelephonyUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
