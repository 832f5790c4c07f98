package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/linksmith/linksmith/internal/app/service"
)

// statusForError maps the engine's error taxonomy onto HTTP statuses.
// Unknown errors collapse to a generic 500 so internals never leak.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return fiber.StatusUnauthorized, "Unauthorized: Invalid or missing Admin Key"
	case errors.Is(err, service.ErrCSRFToken):
		return fiber.StatusForbidden, "CSRF Token verification failed"
	case errors.Is(err, service.ErrLinkNotFound):
		return fiber.StatusNotFound, "Short URL not found"
	case errors.Is(err, service.ErrSlugTaken):
		return fiber.StatusConflict, "Custom slug is already taken"
	case errors.Is(err, service.ErrLinkExpired):
		return fiber.StatusGone, "This short URL has expired"
	case errors.Is(err, service.ErrLinkExhausted):
		return fiber.StatusGone, "This short URL has reached its click limit"
	case errors.Is(err, service.ErrRateLimited):
		return fiber.StatusTooManyRequests, "Too many requests. Please try again later."
	case errors.Is(err, service.ErrSlugSpaceExhausted):
		return fiber.StatusServiceUnavailable, "Failed to generate unique slug"
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	status, message := statusForError(err)
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
