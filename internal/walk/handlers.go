package walk

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"backend-pawwalk/internal/db"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		w, err := svc.Get(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return walkError(err)
		}
		return c.JSON(w)
	})

	r.Post("/:id/accept", authMiddleware, transitionHandler(svc.Accept))
	r.Post("/:id/start", authMiddleware, transitionHandler(svc.Start))
	r.Post("/:id/finish", authMiddleware, transitionHandler(svc.Finish))
	r.Post("/:id/cancel", authMiddleware, transitionHandler(svc.Cancel))
}

func transitionHandler(fn func(ctx context.Context, walkID, userID string) (Walk, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		w, err := fn(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return walkError(err)
		}
		return c.JSON(w)
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func walkError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, db.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
