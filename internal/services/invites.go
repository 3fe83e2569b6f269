package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carelink/backend/internal/config"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/pkg/logger"
	"github.com/carelink/backend/pkg/sharecode"
)

// InviteService owns the invitation state machine. Invites move from pending
// to exactly one of accepted, declined, cancelled or expired; every terminal
// state is final. The datastore is the sole serialization point: concurrent
// resolutions race on a compare-and-swap over the pending status.
type InviteService struct {
	DB     *gorm.DB
	Access *AccessService
	Mailer *Mailer
	cfg    config.InviteConfig

	// generate is swappable so tests can force collisions.
	generate func() (string, error)
}

func NewInviteService(db *gorm.DB, access *AccessService, mailer *Mailer, cfg config.InviteConfig) *InviteService {
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = 7
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = 5
	}
	return &InviteService{
		DB:       db,
		Access:   access,
		Mailer:   mailer,
		cfg:      cfg,
		generate: sharecode.Generate,
	}
}

type IssueInviteInput struct {
	ChildID      uuid.UUID
	InviterID    uuid.UUID
	Relationship models.Relationship
	// Permissions defaults to view-only when nil; elevated tuples are
	// normalized so manage implies edit implies view.
	Permissions *models.Permissions
	// InviteeEmail nil means an open-link invite redeemable by whoever
	// holds the code.
	InviteeEmail *string
}

// Issue creates a pending invite with a fresh share code and a fixed expiry.
// The caller must hold manage on the child.
func (s *InviteService) Issue(ctx context.Context, in IssueInviteInput) (*models.ChildInvite, error) {
	if !models.IsValidRelationship(string(in.Relationship)) {
		return nil, ErrValidation
	}

	var email *string
	if in.InviteeEmail != nil {
		normalized := strings.ToLower(strings.TrimSpace(*in.InviteeEmail))
		if _, err := mail.ParseAddress(normalized); err != nil {
			return nil, ErrValidation
		}
		email = &normalized
	}

	access, err := s.Access.Effective(ctx, in.InviterID, in.ChildID)
	if err != nil {
		return nil, err
	}
	if access.Role == RoleNone {
		// Do not confirm the child exists to callers with no access.
		return nil, ErrChildNotFound
	}
	if !access.CanManage() {
		return nil, ErrPermissionDenied
	}

	perms := models.DefaultPermissions()
	if in.Permissions != nil {
		perms = in.Permissions.Normalize()
	}

	now := time.Now()
	if email != nil {
		if err := s.expireStalePending(ctx, s.DB, in.ChildID, now); err != nil {
			return nil, err
		}

		var pending int64
		err := s.DB.WithContext(ctx).Model(&models.ChildInvite{}).
			Where("child_id = ? AND invitee_email = ? AND status = ?", in.ChildID, *email, models.InviteStatusPending).
			Count(&pending).Error
		if err != nil {
			return nil, err
		}
		if pending > 0 {
			return nil, ErrDuplicateActiveInvite
		}
	}

	invite := &models.ChildInvite{
		ChildID:      in.ChildID,
		InviterID:    in.InviterID,
		InviteeEmail: email,
		Status:       models.InviteStatusPending,
		Relationship: in.Relationship,
		Permissions:  perms,
		ExpiresAt:    now.Add(time.Duration(s.cfg.ExpiryDays) * 24 * time.Hour),
	}

	if err := s.createWithFreshCode(ctx, invite); err != nil {
		return nil, err
	}

	logger.InfoWithUser(in.InviterID.String(), "invite_issued", map[string]interface{}{
		"invite_id":    invite.ID.String(),
		"child_id":     in.ChildID.String(),
		"relationship": string(in.Relationship),
		"addressed":    email != nil,
	})

	s.notify(invite)

	return invite, nil
}

// createWithFreshCode inserts the invite, regenerating the code on collision
// with any currently active code. Concurrent generators rely on the partial
// unique indexes rather than a lock; the attempt budget bounds the loop.
func (s *InviteService) createWithFreshCode(ctx context.Context, invite *models.ChildInvite) error {
	for attempt := 0; attempt < s.cfg.CodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return err
		}

		if taken, err := s.codeActive(ctx, code); err != nil {
			return err
		} else if taken {
			continue
		}

		invite.ID = uuid.Nil
		invite.ShareCode = code
		err = s.DB.WithContext(ctx).Create(invite).Error
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			// Lost the check-then-insert race; try another code, unless
			// the conflict is the pending-per-email index.
			if invite.InviteeEmail != nil {
				var pending int64
				countErr := s.DB.WithContext(ctx).Model(&models.ChildInvite{}).
					Where("child_id = ? AND invitee_email = ? AND status = ?",
						invite.ChildID, *invite.InviteeEmail, models.InviteStatusPending).
					Count(&pending).Error
				if countErr == nil && pending > 0 {
					return ErrDuplicateActiveInvite
				}
			}
			continue
		}
		return err
	}
	return ErrRetryExhausted
}

// codeActive reports whether code collides with any currently active code:
// a pending invite's code or a child's standing share code.
func (s *InviteService) codeActive(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.ChildInvite{}).
		Where("share_code = ? AND status = ?", code, models.InviteStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	err = s.DB.WithContext(ctx).Model(&models.Child{}).
		Where("share_code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Accept redeems a share code for the given user. Invitation codes are tried
// first; a child's standing share code acts as an open-link invite producing
// a view-only guardian grant. The invite flip and the grant upsert commit as
// one transaction, so a half-accepted invite can never be observed.
func (s *InviteService) Accept(ctx context.Context, code string, userID uuid.UUID) (*models.ChildParent, error) {
	code = sharecode.Normalize(code)
	if code == "" {
		return nil, ErrValidation
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	var invite models.ChildInvite
	err := s.DB.WithContext(ctx).
		Where("share_code = ?", code).
		Order("created_at DESC").
		First(&invite).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
		return s.acceptChildCode(ctx, code, &user)
	}

	return s.acceptInvite(ctx, &invite, &user)
}

// AcceptByID resolves an invite by primary key rather than code.
func (s *InviteService) AcceptByID(ctx context.Context, inviteID, userID uuid.UUID) (*models.ChildParent, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	var invite models.ChildInvite
	if err := s.DB.WithContext(ctx).First(&invite, "id = ?", inviteID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	return s.acceptInvite(ctx, &invite, &user)
}

func (s *InviteService) acceptInvite(ctx context.Context, invite *models.ChildInvite, user *models.User) (*models.ChildParent, error) {
	if err := s.checkPending(ctx, invite); err != nil {
		return nil, err
	}

	// Addressed invites are only redeemable by the matching account.
	if invite.InviteeEmail != nil && !strings.EqualFold(*invite.InviteeEmail, user.Email) {
		return nil, ErrPermissionDenied
	}

	var child models.Child
	if err := s.DB.WithContext(ctx).Select("id", "owner_id").First(&child, "id = ?", invite.ChildID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrChildNotFound
		}
		return nil, err
	}
	if child.OwnerID == user.ID {
		// The owner's access is implicit; redeeming an invite for their
		// own child would stage a redundant row.
		return nil, ErrValidation
	}

	grant := &models.ChildParent{
		ChildID:      invite.ChildID,
		UserID:       user.ID,
		Relationship: invite.Relationship,
		Permissions:  invite.Permissions.Normalize(),
		IsVerified:   true,
		InvitedByID:  &invite.InviterID,
		InvitationID: &invite.ID,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChildInvite{}).
			Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
			Updates(map[string]interface{}{
				"status":          models.InviteStatusAccepted,
				"invitee_user_id": user.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInviteAlreadyResolved
		}

		return upsertGrant(tx, grant)
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "invite_accepted", map[string]interface{}{
		"invite_id": invite.ID.String(),
		"child_id":  invite.ChildID.String(),
		"grant_id":  grant.ID.String(),
	})

	return grant, nil
}

// acceptChildCode redeems a child's standing share code, which behaves like
// an open-link invite with default permissions.
func (s *InviteService) acceptChildCode(ctx context.Context, code string, user *models.User) (*models.ChildParent, error) {
	var child models.Child
	err := s.DB.WithContext(ctx).Select("id", "owner_id").First(&child, "share_code = ?", code).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	if child.OwnerID == user.ID {
		return nil, ErrValidation
	}

	grant := &models.ChildParent{
		ChildID:      child.ID,
		UserID:       user.ID,
		Relationship: models.RelationshipGuardian,
		Permissions:  models.DefaultPermissions(),
		IsVerified:   true,
		InvitedByID:  &child.OwnerID,
	}

	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertGrant(tx, grant)
	}); err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "share_code_redeemed", map[string]interface{}{
		"child_id": child.ID.String(),
		"grant_id": grant.ID.String(),
	})

	return grant, nil
}

// Decline flips a pending invite to declined. Only the invitee may decline,
// and no grant is created.
func (s *InviteService) Decline(ctx context.Context, inviteID, userID uuid.UUID) error {
	invite, user, err := s.loadInviteAndUser(ctx, inviteID, userID)
	if err != nil {
		return err
	}

	if err := s.checkPending(ctx, invite); err != nil {
		return err
	}

	invitee := invite.InviteeUserID != nil && *invite.InviteeUserID == userID
	if !invitee && invite.InviteeEmail != nil {
		invitee = strings.EqualFold(*invite.InviteeEmail, user.Email)
	}
	if !invitee {
		return ErrPermissionDenied
	}

	if err := s.resolve(ctx, invite.ID, models.InviteStatusDeclined); err != nil {
		return err
	}

	logger.InfoWithUser(userID.String(), "invite_declined", map[string]interface{}{
		"invite_id": invite.ID.String(),
		"child_id":  invite.ChildID.String(),
	})
	return nil
}

// Cancel withdraws a pending invite. The original inviter or any manage
// holder on the child may cancel.
func (s *InviteService) Cancel(ctx context.Context, inviteID, userID uuid.UUID) error {
	invite, _, err := s.loadInviteAndUser(ctx, inviteID, userID)
	if err != nil {
		return err
	}

	if err := s.checkPending(ctx, invite); err != nil {
		return err
	}

	if invite.InviterID != userID {
		access, err := s.Access.Effective(ctx, userID, invite.ChildID)
		if err != nil {
			return err
		}
		if !access.CanManage() {
			return ErrPermissionDenied
		}
	}

	if err := s.resolve(ctx, invite.ID, models.InviteStatusCancelled); err != nil {
		return err
	}

	logger.InfoWithUser(userID.String(), "invite_cancelled", map[string]interface{}{
		"invite_id": invite.ID.String(),
		"child_id":  invite.ChildID.String(),
	})
	return nil
}

// ListForChild returns a child's invites, newest first, for manage holders.
// Stale pending invites are expired before listing so no caller ever sees a
// pending invite past its window.
func (s *InviteService) ListForChild(ctx context.Context, childID, callerID uuid.UUID) ([]models.ChildInvite, error) {
	access, err := s.Access.Effective(ctx, callerID, childID)
	if err != nil {
		return nil, err
	}
	if access.Role == RoleNone {
		return nil, ErrChildNotFound
	}
	if !access.CanManage() {
		return nil, ErrPermissionDenied
	}

	if err := s.expireStalePending(ctx, s.DB, childID, time.Now()); err != nil {
		return nil, err
	}

	var invites []models.ChildInvite
	err = s.DB.WithContext(ctx).
		Preload("Inviter").
		Where("child_id = ?", childID).
		Order("created_at DESC").
		Find(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (s *InviteService) loadInviteAndUser(ctx context.Context, inviteID, userID uuid.UUID) (*models.ChildInvite, *models.User, error) {
	var invite models.ChildInvite
	if err := s.DB.WithContext(ctx).First(&invite, "id = ?", inviteID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, ErrInviteNotFound
		}
		return nil, nil, err
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, nil, err
	}

	return &invite, &user, nil
}

// checkPending enforces the state machine on a loaded invite. A pending
// invite past its expiry is flipped to expired before any caller can act on
// it; terminal states map to their respective errors.
func (s *InviteService) checkPending(ctx context.Context, invite *models.ChildInvite) error {
	switch invite.Status {
	case models.InviteStatusPending:
		if invite.IsExpired(time.Now()) {
			// Best-effort write-back; the invite reads as expired
			// regardless of whether the update lands.
			if err := s.resolve(ctx, invite.ID, models.InviteStatusExpired); err != nil && !errors.Is(err, ErrInviteAlreadyResolved) {
				logger.Error("invite_expiry_writeback_failed", err, map[string]interface{}{
					"invite_id": invite.ID.String(),
				})
			}
			invite.Status = models.InviteStatusExpired
			return ErrInviteExpired
		}
		return nil
	case models.InviteStatusExpired:
		return ErrInviteExpired
	case models.InviteStatusAccepted, models.InviteStatusDeclined, models.InviteStatusCancelled:
		return ErrInviteAlreadyResolved
	default:
		return ErrInviteAlreadyResolved
	}
}

// resolve performs the compare-and-swap out of pending. Exactly one of two
// racing resolutions wins; the loser observes an already-resolved invite.
func (s *InviteService) resolve(ctx context.Context, inviteID uuid.UUID, to models.InviteStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.ChildInvite{}).
		Where("id = ? AND status = ?", inviteID, models.InviteStatusPending).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInviteAlreadyResolved
	}
	return nil
}

// expireStalePending sweeps a child's pending invites whose window has
// passed. Expiry is otherwise evaluated lazily on each read.
func (s *InviteService) expireStalePending(ctx context.Context, db *gorm.DB, childID uuid.UUID, now time.Time) error {
	return db.WithContext(ctx).Model(&models.ChildInvite{}).
		Where("child_id = ? AND status = ? AND expires_at <= ?", childID, models.InviteStatusPending, now).
		Update("status", models.InviteStatusExpired).Error
}

// RotateChildShareCode issues (or replaces) a child's standing share code.
// Requires manage on the child. The old code stops resolving immediately.
func (s *InviteService) RotateChildShareCode(ctx context.Context, childID, callerID uuid.UUID) (string, error) {
	access, err := s.Access.Effective(ctx, callerID, childID)
	if err != nil {
		return "", err
	}
	if access.Role == RoleNone {
		return "", ErrChildNotFound
	}
	if !access.CanManage() {
		return "", ErrPermissionDenied
	}

	for attempt := 0; attempt < s.cfg.CodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}

		if taken, err := s.codeActive(ctx, code); err != nil {
			return "", err
		} else if taken {
			continue
		}

		err = s.DB.WithContext(ctx).Model(&models.Child{}).
			Where("id = ?", childID).
			Update("share_code", code).Error
		if err == nil {
			logger.InfoWithUser(callerID.String(), "child_share_code_rotated", map[string]interface{}{
				"child_id": childID.String(),
			})
			return code, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return "", err
	}
	return "", ErrRetryExhausted
}

func (s *InviteService) notify(invite *models.ChildInvite) {
	// Skip the lookups entirely when delivery cannot happen anyway.
	if s.Mailer == nil || !s.Mailer.IsEnabled() || invite.InviteeEmail == nil {
		return
	}

	var inviter models.User
	var child models.Child
	if err := s.DB.First(&inviter, "id = ?", invite.InviterID).Error; err != nil {
		logger.Error("invite_notify_inviter_lookup_failed", err, map[string]interface{}{
			"invite_id": invite.ID.String(),
		})
		return
	}
	if err := s.DB.First(&child, "id = ?", invite.ChildID).Error; err != nil {
		logger.Error("invite_notify_child_lookup_failed", err, map[string]interface{}{
			"invite_id": invite.ID.String(),
		})
		return
	}

	email := *invite.InviteeEmail
	code := invite.ShareCode
	inviterName := inviter.FirstName + " " + inviter.LastName
	childName := child.FirstName

	// Fire-and-forget: delivery failure never affects the invite.
	go func() {
		if err := s.Mailer.SendInviteEmail(context.Background(), email, inviterName, childName, code); err != nil {
			logger.Error("invite_email_failed", err, map[string]interface{}{
				"invite_id": invite.ID.String(),
			})
		}
	}()
}

// upsertGrant writes a verified grant keyed on (child_id, user_id). When a
// row already exists for the pair the write confirms verification instead of
// duplicating it, which makes acceptance idempotent.
func upsertGrant(tx *gorm.DB, grant *models.ChildParent) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "child_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_verified": true,
		}),
	}).Create(grant).Error
	if err != nil {
		return err
	}

	// OnConflict does not refresh the in-memory row on the update path;
	// reload so callers see the surviving grant's identity.
	return tx.Where("child_id = ? AND user_id = ?", grant.ChildID, grant.UserID).First(grant).Error
}

// isUniqueViolation matches storage-level uniqueness conflicts across the
// postgres and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique index")
}
