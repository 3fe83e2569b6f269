package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/carelink/backend/internal/models"
)

func createTestGrant(t *testing.T, db *gorm.DB, child *models.Child, user *models.User, perms models.Permissions, verified bool) *models.ChildParent {
	t.Helper()

	grant := &models.ChildParent{
		ChildID:      child.ID,
		UserID:       user.ID,
		Relationship: models.RelationshipGuardian,
		Permissions:  perms,
		IsVerified:   verified,
	}
	if err := db.Create(grant).Error; err != nil {
		t.Fatalf("failed creating grant: %v", err)
	}
	return grant
}

func TestParentService_List(t *testing.T) {
	db := setupTestDB(t)
	svc := NewParentService(db, NewAccessService(db))

	owner := createTestUser(t, db, "owner")
	guardian := createTestUser(t, db, "guardian")
	staged := createTestUser(t, db, "staged")
	stranger := createTestUser(t, db, "stranger")
	child := createTestChild(t, db, owner, "Mia")

	createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)
	createTestGrant(t, db, child, staged, models.Permissions{View: true}, false)

	t.Run("owner sees the synthesized owner entry first", func(t *testing.T) {
		entries, err := svc.List(context.TODO(), child.ID, owner.ID)
		if err != nil {
			t.Fatalf("expected listing to succeed, got error: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		first := entries[0]
		if first.Role != RoleOwner || first.UserID != owner.ID {
			t.Fatalf("expected the owner entry first, got role %s for user %s", first.Role, first.UserID)
		}
		if first.GrantID != nil {
			t.Fatal("owner entry must not reference a stored grant")
		}
		want := models.Permissions{View: true, Edit: true, Manage: true}
		if first.Permissions != want {
			t.Fatalf("expected full permissions on the owner entry, got %+v", first.Permissions)
		}
	})

	t.Run("unverified rows are hidden from non-manage callers", func(t *testing.T) {
		entries, err := svc.List(context.TODO(), child.ID, guardian.ID)
		if err != nil {
			t.Fatalf("expected listing to succeed, got error: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected owner plus one verified grant, got %d entries", len(entries))
		}
		for _, e := range entries {
			if e.UserID == staged.ID {
				t.Fatal("staged row leaked to a view-only caller")
			}
		}
	})

	t.Run("stranger gets not found", func(t *testing.T) {
		_, err := svc.List(context.TODO(), child.ID, stranger.ID)
		if !errors.Is(err, ErrChildNotFound) {
			t.Fatalf("expected ErrChildNotFound, got %v", err)
		}
	})

	t.Run("staged grantee has no access and gets not found", func(t *testing.T) {
		_, err := svc.List(context.TODO(), child.ID, staged.ID)
		if !errors.Is(err, ErrChildNotFound) {
			t.Fatalf("expected ErrChildNotFound, got %v", err)
		}
	})
}

func TestParentService_UpdatePermissions(t *testing.T) {
	db := setupTestDB(t)
	svc := NewParentService(db, NewAccessService(db))

	owner := createTestUser(t, db, "owner")
	manager := createTestUser(t, db, "manager")
	guardian := createTestUser(t, db, "guardian")
	child := createTestChild(t, db, owner, "Mia")

	managerGrant := createTestGrant(t, db, child, manager, models.Permissions{View: true, Edit: true, Manage: true}, true)
	guardianGrant := createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)

	t.Run("manage holder can adjust another grant, normalized", func(t *testing.T) {
		updated, err := svc.UpdatePermissions(context.TODO(), guardianGrant.ID, manager.ID, models.Permissions{Edit: true})
		if err != nil {
			t.Fatalf("expected update to succeed, got error: %v", err)
		}
		want := models.Permissions{View: true, Edit: true}
		if updated.Permissions != want {
			t.Fatalf("expected normalized view+edit, got %+v", updated.Permissions)
		}

		var stored models.ChildParent
		if err := db.First(&stored, "id = ?", guardianGrant.ID).Error; err != nil {
			t.Fatalf("failed reloading grant: %v", err)
		}
		if stored.Permissions != want {
			t.Fatalf("expected persisted view+edit, got %+v", stored.Permissions)
		}
	})

	t.Run("manage holder cannot edit their own grant", func(t *testing.T) {
		_, err := svc.UpdatePermissions(context.TODO(), managerGrant.ID, manager.ID, models.Permissions{View: true})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("owner may edit any grant including a self-edit attempt path", func(t *testing.T) {
		updated, err := svc.UpdatePermissions(context.TODO(), managerGrant.ID, owner.ID, models.Permissions{View: true})
		if err != nil {
			t.Fatalf("expected owner update to succeed, got error: %v", err)
		}
		want := models.Permissions{View: true}
		if updated.Permissions != want {
			t.Fatalf("expected demotion to view-only, got %+v", updated.Permissions)
		}
	})

	t.Run("demoted holder loses manage", func(t *testing.T) {
		_, err := svc.UpdatePermissions(context.TODO(), guardianGrant.ID, manager.ID, models.Permissions{View: true})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied after demotion, got %v", err)
		}
	})

	t.Run("missing grant yields ErrGrantNotFound", func(t *testing.T) {
		phantom := createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)
		if err := db.Delete(&models.ChildParent{}, "id = ?", phantom.ID).Error; err != nil {
			t.Fatalf("failed deleting grant: %v", err)
		}
		_, err := svc.UpdatePermissions(context.TODO(), phantom.ID, owner.ID, models.Permissions{View: true})
		if !errors.Is(err, ErrGrantNotFound) {
			t.Fatalf("expected ErrGrantNotFound, got %v", err)
		}
	})
}

func TestParentService_Revoke(t *testing.T) {
	db := setupTestDB(t)
	svc := NewParentService(db, NewAccessService(db))
	access := NewAccessService(db)

	owner := createTestUser(t, db, "owner")
	guardian := createTestUser(t, db, "guardian")
	viewer := createTestUser(t, db, "viewer")
	child := createTestChild(t, db, owner, "Mia")

	t.Run("grantee can remove themselves", func(t *testing.T) {
		grant := createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)

		if err := svc.Revoke(context.TODO(), grant.ID, guardian.ID); err != nil {
			t.Fatalf("expected self-revoke to succeed, got error: %v", err)
		}

		got, err := access.Effective(context.TODO(), guardian.ID, child.ID)
		if err != nil {
			t.Fatalf("failed evaluating access: %v", err)
		}
		if got.Role != RoleNone {
			t.Fatalf("expected no residual access, got role %s", got.Role)
		}
	})

	t.Run("owner can revoke the last remaining grant", func(t *testing.T) {
		grant := createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)

		if err := svc.Revoke(context.TODO(), grant.ID, owner.ID); err != nil {
			t.Fatalf("expected owner revoke to succeed, got error: %v", err)
		}

		var count int64
		if err := db.Model(&models.ChildParent{}).Where("child_id = ?", child.ID).Count(&count).Error; err != nil {
			t.Fatalf("failed counting grants: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected an empty ledger, got %d grants", count)
		}
	})

	t.Run("view-only holder cannot revoke someone else", func(t *testing.T) {
		target := createTestGrant(t, db, child, guardian, models.Permissions{View: true}, true)
		createTestGrant(t, db, child, viewer, models.Permissions{View: true}, true)

		if err := svc.Revoke(context.TODO(), target.ID, viewer.ID); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("missing grant yields ErrGrantNotFound", func(t *testing.T) {
		grant := createTestGrant(t, db, child, createTestUser(t, db, "temp"), models.Permissions{View: true}, true)
		if err := svc.Revoke(context.TODO(), grant.ID, owner.ID); err != nil {
			t.Fatalf("first revoke failed: %v", err)
		}
		if err := svc.Revoke(context.TODO(), grant.ID, owner.ID); !errors.Is(err, ErrGrantNotFound) {
			t.Fatalf("expected ErrGrantNotFound, got %v", err)
		}
	})
}
