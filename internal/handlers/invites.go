package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/middleware"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/utils"
)

type InvitesHandler struct {
	DB      *gorm.DB
	Invites *services.InviteService
}

func NewInvitesHandler(db *gorm.DB, invites *services.InviteService) *InvitesHandler {
	return &InvitesHandler{DB: db, Invites: invites}
}

type issueInviteRequest struct {
	Relationship string              `json:"relationship"`
	Email        *string             `json:"email"`
	Permissions  *models.Permissions `json:"permissions"`
}

type issueInviteResponse struct {
	Invite *models.ChildInvite `json:"invite"`
	Code   string              `json:"code"`
}

func (h *InvitesHandler) Issue(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	var req issueInviteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	invite, err := h.Invites.Issue(c.Context(), services.IssueInviteInput{
		ChildID:      childID,
		InviterID:    currentUser.ID,
		Relationship: models.Relationship(req.Relationship),
		Permissions:  req.Permissions,
		InviteeEmail: req.Email,
	})
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusCreated, issueInviteResponse{
		Invite: invite,
		Code:   invite.ShareCode,
	})
}

func (h *InvitesHandler) ListForChild(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	invites, err := h.Invites.ListForChild(c.Context(), childID, currentUser.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, invites)
}

type acceptInviteRequest struct {
	Code string `json:"code"`
}

func (h *InvitesHandler) Accept(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req acceptInviteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	grant, err := h.Invites.Accept(c.Context(), req.Code, currentUser.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, grant)
}

// AcceptByID redeems an invite the caller already knows by id, such as one
// surfaced in their pending-invite list, without re-entering the code.
func (h *InvitesHandler) AcceptByID(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	inviteID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invite id")
	}

	grant, err := h.Invites.AcceptByID(c.Context(), inviteID, currentUser.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, grant)
}

func (h *InvitesHandler) Decline(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	inviteID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invite id")
	}

	if err := h.Invites.Decline(c.Context(), inviteID, currentUser.ID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"declined": true})
}

func (h *InvitesHandler) Cancel(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	inviteID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid invite id")
	}

	if err := h.Invites.Cancel(c.Context(), inviteID, currentUser.ID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"cancelled": true})
}
