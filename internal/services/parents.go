package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/pkg/logger"
)

// ParentService is the relationship ledger: confirmed grants linking users to
// children. The owner is never represented here, so no operation in this
// service can leave a child without one.
type ParentService struct {
	DB     *gorm.DB
	Access *AccessService
}

func NewParentService(db *gorm.DB, access *AccessService) *ParentService {
	return &ParentService{DB: db, Access: access}
}

// ParentEntry is one row of a child's care circle as seen by a caller. The
// owner appears first with a synthesized entry.
type ParentEntry struct {
	GrantID      *uuid.UUID         `json:"grantID,omitempty"`
	UserID       uuid.UUID          `json:"userID"`
	Role         Role               `json:"role"`
	Permissions  models.Permissions `json:"permissions"`
	IsVerified   bool               `json:"isVerified"`
	User         *models.User       `json:"user,omitempty"`
	JoinedAt     time.Time          `json:"joinedAt"`
	InvitedByID  *uuid.UUID         `json:"invitedByID,omitempty"`
	InvitationID *uuid.UUID         `json:"invitationID,omitempty"`
}

// List returns the child's care circle ordered by join time descending, with
// the implicit owner entry first. Unverified (staged) rows are visible only
// to the owner and manage holders.
func (p *ParentService) List(ctx context.Context, childID, callerID uuid.UUID) ([]ParentEntry, error) {
	var child models.Child
	if err := p.DB.WithContext(ctx).Preload("Owner").First(&child, "id = ?", childID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrChildNotFound
		}
		return nil, err
	}

	access, err := p.Access.effectiveForChild(ctx, callerID, &child)
	if err != nil {
		return nil, err
	}
	if !access.CanView() {
		return nil, ErrChildNotFound
	}

	query := p.DB.WithContext(ctx).
		Preload("User").
		Where("child_id = ?", childID)
	if !access.CanManage() {
		query = query.Where("is_verified = ?", true)
	}

	var grants []models.ChildParent
	if err := query.Order("created_at DESC").Find(&grants).Error; err != nil {
		return nil, err
	}

	owner := child.Owner
	entries := make([]ParentEntry, 0, len(grants)+1)
	entries = append(entries, ParentEntry{
		UserID:      child.OwnerID,
		Role:        RoleOwner,
		Permissions: models.Permissions{View: true, Edit: true, Manage: true},
		IsVerified:  true,
		User:        &owner,
		JoinedAt:    child.CreatedAt,
	})

	for i := range grants {
		g := grants[i]
		entries = append(entries, ParentEntry{
			GrantID:      &g.ID,
			UserID:       g.UserID,
			Role:         Role(g.Relationship),
			Permissions:  g.Permissions,
			IsVerified:   g.IsVerified,
			User:         &grants[i].User,
			JoinedAt:     g.CreatedAt,
			InvitedByID:  g.InvitedByID,
			InvitationID: g.InvitationID,
		})
	}

	return entries, nil
}

// UpdatePermissions rewrites a non-owner grant's permission tuple. Manage
// holders may edit other grants but never their own, so nobody quietly
// escalates themselves; the owner's access is not a row and cannot be edited.
func (p *ParentService) UpdatePermissions(ctx context.Context, grantID, callerID uuid.UUID, perms models.Permissions) (*models.ChildParent, error) {
	var grant models.ChildParent
	if err := p.DB.WithContext(ctx).First(&grant, "id = ?", grantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}

	access, err := p.Access.Effective(ctx, callerID, grant.ChildID)
	if err != nil {
		return nil, err
	}
	if !access.CanManage() {
		return nil, ErrPermissionDenied
	}
	if grant.UserID == callerID && !access.IsOwner() {
		return nil, ErrPermissionDenied
	}

	grant.Permissions = perms.Normalize()
	if err := p.DB.WithContext(ctx).Model(&grant).Updates(map[string]interface{}{
		"can_view":   grant.Permissions.View,
		"can_edit":   grant.Permissions.Edit,
		"can_manage": grant.Permissions.Manage,
	}).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(callerID.String(), "grant_permissions_updated", map[string]interface{}{
		"grant_id": grant.ID.String(),
		"child_id": grant.ChildID.String(),
		"view":     grant.Permissions.View,
		"edit":     grant.Permissions.Edit,
		"manage":   grant.Permissions.Manage,
	})

	return &grant, nil
}

// Revoke hard-deletes a grant. The owner, any manage holder, or the grantee
// removing themselves may revoke. Removing the last remaining grant is always
// legal; the owner is not a row here and so can never be revoked.
func (p *ParentService) Revoke(ctx context.Context, grantID, callerID uuid.UUID) error {
	var grant models.ChildParent
	if err := p.DB.WithContext(ctx).First(&grant, "id = ?", grantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrGrantNotFound
		}
		return err
	}

	if grant.UserID != callerID {
		access, err := p.Access.Effective(ctx, callerID, grant.ChildID)
		if err != nil {
			return err
		}
		if !access.CanManage() {
			return ErrPermissionDenied
		}
	}

	if err := p.DB.WithContext(ctx).Delete(&models.ChildParent{}, "id = ?", grant.ID).Error; err != nil {
		return err
	}

	logger.InfoWithUser(callerID.String(), "grant_revoked", map[string]interface{}{
		"grant_id":       grant.ID.String(),
		"child_id":       grant.ChildID.String(),
		"revoked_user":   grant.UserID.String(),
		"self_initiated": grant.UserID == callerID,
	})

	return nil
}
