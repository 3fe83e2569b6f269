package models

import "github.com/google/uuid"

type Relationship string

const (
	RelationshipParent   Relationship = "parent"
	RelationshipGuardian Relationship = "guardian"
	RelationshipRelative Relationship = "relative"
)

// IsValidRelationship reports whether value names a storable relationship.
// "owner" is intentionally absent: ownership is derived from Child.OwnerID.
func IsValidRelationship(value string) bool {
	switch Relationship(value) {
	case RelationshipParent, RelationshipGuardian, RelationshipRelative:
		return true
	default:
		return false
	}
}

// Permissions is the fixed-shape permission tuple stored on a grant.
type Permissions struct {
	View   bool `json:"view" gorm:"not null;default:false"`
	Edit   bool `json:"edit" gorm:"not null;default:false"`
	Manage bool `json:"manage" gorm:"not null;default:false"`
}

// DefaultPermissions is what an invite grants unless the inviter elevates it.
func DefaultPermissions() Permissions {
	return Permissions{View: true}
}

// Normalize applies the implication ordering manage => edit => view, so a
// stored row can never hold manage without edit, or edit without view.
func (p Permissions) Normalize() Permissions {
	if p.Manage {
		p.Edit = true
	}
	if p.Edit {
		p.View = true
	}
	return p
}

// ChildParent links a non-owner user to a child with a relationship and a
// permission tuple. Unverified rows are staged and grant no access.
type ChildParent struct {
	BaseModel
	ChildID      uuid.UUID    `json:"childID" gorm:"type:uuid;not null;index;uniqueIndex:idx_child_user"`
	UserID       uuid.UUID    `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_child_user"`
	Relationship Relationship `json:"relationship" gorm:"type:varchar(20);not null"`
	Permissions  Permissions  `json:"permissions" gorm:"embedded;embeddedPrefix:can_"`
	IsVerified   bool         `json:"isVerified" gorm:"not null;default:false"`
	InvitedByID  *uuid.UUID   `json:"invitedByID,omitempty" gorm:"type:uuid"`
	InvitationID *uuid.UUID   `json:"invitationID,omitempty" gorm:"type:uuid"`
	Child        Child        `json:"-" gorm:"foreignKey:ChildID;references:ID;constraint:OnDelete:CASCADE"`
	User         User         `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

func (ChildParent) TableName() string {
	return "child_parents"
}
