package services

import (
	"context"

	"github.com/carelink/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the resolved position of a user relative to a child. Owner is
// synthesized from Child.OwnerID; the remaining roles mirror the stored
// relationship on a verified grant.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleParent   Role = "parent"
	RoleGuardian Role = "guardian"
	RoleRelative Role = "relative"
	RoleNone     Role = "none"
)

// Access is the effective permission tuple for a (user, child) pair. Every
// feature touching a child or its dependent records must consult it first.
type Access struct {
	Role        Role               `json:"role"`
	Permissions models.Permissions `json:"permissions"`
}

func (a Access) IsOwner() bool   { return a.Role == RoleOwner }
func (a Access) CanView() bool   { return a.Permissions.View }
func (a Access) CanEdit() bool   { return a.Permissions.Edit }
func (a Access) CanManage() bool { return a.Permissions.Manage }

type AccessService struct {
	DB *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db}
}

// Effective resolves the caller's role and permissions for a child. The owner
// always gets the full tuple with no stored row required; everyone else needs
// a verified grant. No verified grant means role none and all flags false, so
// callers can present the child as not found rather than forbidden.
func (a *AccessService) Effective(ctx context.Context, userID, childID uuid.UUID) (Access, error) {
	var child models.Child
	if err := a.DB.WithContext(ctx).Select("id", "owner_id").First(&child, "id = ?", childID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Access{Role: RoleNone}, ErrChildNotFound
		}
		return Access{Role: RoleNone}, err
	}

	return a.effectiveForChild(ctx, userID, &child)
}

// effectiveForChild skips the child lookup when the caller already holds the
// row, keeping handler hot paths to a single query.
func (a *AccessService) effectiveForChild(ctx context.Context, userID uuid.UUID, child *models.Child) (Access, error) {
	if child.OwnerID == userID {
		return Access{
			Role:        RoleOwner,
			Permissions: models.Permissions{View: true, Edit: true, Manage: true},
		}, nil
	}

	var grant models.ChildParent
	err := a.DB.WithContext(ctx).
		Where("child_id = ? AND user_id = ? AND is_verified = ?", child.ID, userID, true).
		First(&grant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Access{Role: RoleNone}, nil
		}
		return Access{Role: RoleNone}, err
	}

	return Access{
		Role:        Role(grant.Relationship),
		Permissions: grant.Permissions,
	}, nil
}
