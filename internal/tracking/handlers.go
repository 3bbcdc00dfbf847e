package tracking

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req PositionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sample, err := svc.IngestPosition(c.Context(), c.Params("id"), userID(c), req.Sample())
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sample)
	})

	r.Get("/:id/track", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.QueryTrackSummary(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func respondError(c *fiber.Ctx, err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		return c.Status(statusFor(rej.Reason)).JSON(rej)
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

func statusFor(reason Reason) int {
	switch reason {
	case ReasonNotFound:
		return fiber.StatusNotFound
	case ReasonForbidden:
		return fiber.StatusForbidden
	case ReasonInvalidState:
		return fiber.StatusConflict
	case ReasonInvalidCoordinate, ReasonOutOfGeofence:
		return fiber.StatusUnprocessableEntity
	case ReasonRateLimited:
		return fiber.StatusTooManyRequests
	case ReasonTimeout:
		return fiber.StatusGatewayTimeout
	case ReasonUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
