package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/middleware"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/logger"
	"github.com/carelink/backend/pkg/utils"
)

type ChildrenHandler struct {
	DB      *gorm.DB
	Access  *services.AccessService
	Invites *services.InviteService
}

func NewChildrenHandler(db *gorm.DB, access *services.AccessService, invites *services.InviteService) *ChildrenHandler {
	return &ChildrenHandler{DB: db, Access: access, Invites: invites}
}

type createChildRequest struct {
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	Gender       *string    `json:"gender"`
	Allergies    *string    `json:"allergies"`
	MedicalNotes *string    `json:"medicalNotes"`
}

func (h *ChildrenHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createChildRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		return utils.Error(c, fiber.StatusBadRequest, "first and last name are required")
	}

	child := models.Child{
		OwnerID:      currentUser.ID,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateOfBirth:  req.DateOfBirth,
		Gender:       req.Gender,
		Allergies:    req.Allergies,
		MedicalNotes: req.MedicalNotes,
	}

	if err := h.DB.Create(&child).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating child")
	}

	logger.InfoWithUser(currentUser.ID.String(), "child_created", map[string]interface{}{
		"child_id": child.ID.String(),
	})

	return utils.Success(c, fiber.StatusCreated, child)
}

// List returns the children the caller owns plus those shared with them
// through a verified grant.
func (h *ChildrenHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var children []models.Child
	err := h.DB.
		Distinct("children.*").
		Joins("LEFT JOIN child_parents ON child_parents.child_id = children.id AND child_parents.user_id = ? AND child_parents.is_verified = ?", currentUser.ID, true).
		Where("children.owner_id = ? OR child_parents.id IS NOT NULL", currentUser.ID).
		Order("children.created_at DESC").
		Find(&children).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing children")
	}

	return utils.Success(c, fiber.StatusOK, children)
}

func (h *ChildrenHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	access, err := h.Access.Effective(c.Context(), currentUser.ID, childID)
	if err != nil {
		return serviceError(c, err)
	}
	if !access.CanView() {
		// Presented as not found so an unauthorized caller cannot
		// confirm a child's existence.
		return utils.Error(c, fiber.StatusNotFound, "child not found")
	}

	var child models.Child
	if err := h.DB.Preload("Owner").First(&child, "id = ?", childID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading child")
	}

	// The standing share code is management-level information.
	if !access.CanManage() {
		child.ShareCode = nil
	}

	return utils.Success(c, fiber.StatusOK, child)
}

type updateChildRequest struct {
	FirstName    *string    `json:"firstName"`
	LastName     *string    `json:"lastName"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	Gender       *string    `json:"gender"`
	Allergies    *string    `json:"allergies"`
	MedicalNotes *string    `json:"medicalNotes"`
}

func (h *ChildrenHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	access, err := h.Access.Effective(c.Context(), currentUser.ID, childID)
	if err != nil {
		return serviceError(c, err)
	}
	if access.Role == services.RoleNone {
		return utils.Error(c, fiber.StatusNotFound, "child not found")
	}
	if !access.CanEdit() {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":              "child_update",
			"target_id":           childID.String(),
			"required_permission": "edit",
		})
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	var req updateChildRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		name := strings.TrimSpace(*req.FirstName)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "first name cannot be empty")
		}
		updates["first_name"] = name
	}
	if req.LastName != nil {
		name := strings.TrimSpace(*req.LastName)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "last name cannot be empty")
		}
		updates["last_name"] = name
	}
	if req.DateOfBirth != nil {
		updates["date_of_birth"] = *req.DateOfBirth
	}
	if req.Gender != nil {
		updates["gender"] = *req.Gender
	}
	if req.Allergies != nil {
		updates["allergies"] = *req.Allergies
	}
	if req.MedicalNotes != nil {
		updates["medical_notes"] = *req.MedicalNotes
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if err := h.DB.Model(&models.Child{}).Where("id = ?", childID).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating child")
	}

	var child models.Child
	if err := h.DB.First(&child, "id = ?", childID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading child")
	}

	logger.InfoWithUser(currentUser.ID.String(), "child_updated", map[string]interface{}{
		"child_id": childID.String(),
	})

	return utils.Success(c, fiber.StatusOK, child)
}

// Delete removes a child together with all its grants and invites in one
// transaction. Only the literal owner may delete; a manage grant is not
// enough.
func (h *ChildrenHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	access, err := h.Access.Effective(c.Context(), currentUser.ID, childID)
	if err != nil {
		return serviceError(c, err)
	}
	if access.Role == services.RoleNone {
		return utils.Error(c, fiber.StatusNotFound, "child not found")
	}
	if !access.IsOwner() {
		logger.WarnWithUser(currentUser.ID.String(), "permission_denied", map[string]interface{}{
			"action":    "child_delete",
			"target_id": childID.String(),
		})
		return utils.Error(c, fiber.StatusForbidden, "access denied")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ChildParent{}, "child_id = ?", childID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.ChildInvite{}, "child_id = ?", childID).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Child{}, "id = ?", childID).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting child")
	}

	logger.InfoWithUser(currentUser.ID.String(), "child_deleted", map[string]interface{}{
		"child_id": childID.String(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// RotateShareCode issues or replaces the child's standing share code.
func (h *ChildrenHandler) RotateShareCode(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	code, err := h.Invites.RotateChildShareCode(c.Context(), childID, currentUser.ID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"shareCode": code})
}

// CheckAccess is the gate dependent features (applications, attendance,
// medical, finance) call before reading or writing anything under a child.
func (h *ChildrenHandler) CheckAccess(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	childID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid child id")
	}

	access, err := h.Access.Effective(c.Context(), currentUser.ID, childID)
	if err != nil {
		// A missing child and a child the caller holds no access to
		// both read as role none, so the response never confirms
		// whether the id refers to a real record.
		if errors.Is(err, services.ErrChildNotFound) {
			return utils.Success(c, fiber.StatusOK, services.Access{Role: services.RoleNone})
		}
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, access)
}
