package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/middleware"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/utils"
)

type ParentsHandler struct {
	DB      *gorm.DB
	Parents *services.ParentService
}

func NewParentsHandler(db *gorm.DB, parents *services.ParentService) *ParentsHandler {
	return &ParentsHandler{DB: db, Parents: parents}
}

func (h *ParentsHandler) ListForChild(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	entries, err := h.Parents.List(c.Context(), childID, currentUser.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, entries)
}

type updateGrantRequest struct {
	Permissions models.Permissions `json:"permissions"`
}

func (h *ParentsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	grantID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid grant id")
	}

	var req updateGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	grant, err := h.Parents.UpdatePermissions(c.Context(), grantID, currentUser.ID, req.Permissions)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, grant)
}

func (h *ParentsHandler) Revoke(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	grantID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid grant id")
	}

	if err := h.Parents.Revoke(c.Context(), grantID, currentUser.ID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"revoked": true})
}
