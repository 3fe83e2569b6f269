package models

import (
	"time"

	"github.com/google/uuid"
)

type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusDeclined  InviteStatus = "declined"
	InviteStatusExpired   InviteStatus = "expired"
	InviteStatusCancelled InviteStatus = "cancelled"
)

// IsTerminal reports whether a status can never change again. Every status
// other than pending is terminal; transitions are monotonic.
func (s InviteStatus) IsTerminal() bool {
	switch s {
	case InviteStatusAccepted, InviteStatusDeclined, InviteStatusExpired, InviteStatusCancelled:
		return true
	case InviteStatusPending:
		return false
	default:
		return false
	}
}

// ChildInvite is a time-boxed invitation to join a child's care circle,
// addressed to an email or redeemable by anyone holding the share code.
type ChildInvite struct {
	BaseModel
	ChildID       uuid.UUID    `json:"childID" gorm:"type:uuid;not null;index"`
	InviterID     uuid.UUID    `json:"inviterID" gorm:"type:uuid;not null;index"`
	InviteeEmail  *string      `json:"inviteeEmail,omitempty" gorm:"type:varchar(255);index"`
	InviteeUserID *uuid.UUID   `json:"inviteeUserID,omitempty" gorm:"type:uuid"`
	ShareCode     string       `json:"shareCode" gorm:"type:varchar(16);not null;index"`
	Status        InviteStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Relationship  Relationship `json:"relationship" gorm:"type:varchar(20);not null"`
	Permissions   Permissions  `json:"permissions" gorm:"embedded;embeddedPrefix:grant_"`
	ExpiresAt     time.Time    `json:"expiresAt" gorm:"not null"`
	Child         Child        `json:"-" gorm:"foreignKey:ChildID;references:ID;constraint:OnDelete:CASCADE"`
	Inviter       User         `json:"inviter,omitempty" gorm:"foreignKey:InviterID;references:ID"`
}

func (ChildInvite) TableName() string {
	return "child_invites"
}

// IsExpired reports whether the invite's window has passed, independent of
// the stored status. Expiry is fixed at issuance and never extended.
func (i *ChildInvite) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
