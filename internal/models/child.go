package models

import (
	"time"

	"github.com/google/uuid"
)

// Child is the canonical child record. OwnerID is set at creation and never
// reassigned; owner access is derived from this pointer rather than stored as
// a ChildParent row.
type Child struct {
	BaseModel
	OwnerID      uuid.UUID     `json:"ownerID" gorm:"type:uuid;not null;index"`
	FirstName    string        `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName     string        `json:"lastName" gorm:"type:varchar(100);not null"`
	DateOfBirth  *time.Time    `json:"dateOfBirth,omitempty"`
	Gender       *string       `json:"gender,omitempty" gorm:"type:varchar(20)"`
	Allergies    *string       `json:"allergies,omitempty" gorm:"type:text"`
	MedicalNotes *string       `json:"medicalNotes,omitempty" gorm:"type:text"`
	ShareCode    *string       `json:"shareCode,omitempty" gorm:"type:varchar(16);uniqueIndex"`
	Owner        User          `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Parents      []ChildParent `json:"-" gorm:"foreignKey:ChildID"`
	Invites      []ChildInvite `json:"-" gorm:"foreignKey:ChildID"`
}

func (Child) TableName() string {
	return "children"
}
