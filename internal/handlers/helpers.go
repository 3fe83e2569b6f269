package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/utils"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// serviceError maps the services error taxonomy onto HTTP responses. A
// caller with no access to a child sees 404, not 403, so the response does
// not confirm the child exists.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPermissionDenied):
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	case errors.Is(err, services.ErrChildNotFound):
		return utils.Error(c, fiber.StatusNotFound, "child not found")
	case errors.Is(err, services.ErrInviteNotFound):
		return utils.Error(c, fiber.StatusNotFound, "invite not found")
	case errors.Is(err, services.ErrGrantNotFound):
		return utils.Error(c, fiber.StatusNotFound, "grant not found")
	case errors.Is(err, services.ErrInviteExpired):
		return utils.Error(c, fiber.StatusGone, "invite expired")
	case errors.Is(err, services.ErrInviteAlreadyResolved):
		return utils.Error(c, fiber.StatusConflict, "invite already resolved")
	case errors.Is(err, services.ErrDuplicateActiveInvite):
		return utils.Error(c, fiber.StatusConflict, "an active invite already exists for this email")
	case errors.Is(err, services.ErrOwnerGrant):
		return utils.Error(c, fiber.StatusBadRequest, "owner access cannot be modified")
	case errors.Is(err, services.ErrRetryExhausted):
		return utils.Error(c, fiber.StatusServiceUnavailable, "could not allocate a share code, try again")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
