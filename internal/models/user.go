package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User describes a portal account. Orders, schedules and role assignments
// live in the record-management services; this service owns only the
// credential and recovery attributes.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`

	// Security-question recovery attributes. The question is plain text set
	// at registration; the answer is stored only as a one-way hash.
	SecurityQuestion               string     `json:"security_question"`
	SecurityAnswerHash             string     `json:"-"`
	FailedSecurityQuestionAttempts int        `gorm:"default:0" json:"-"`
	SecurityQuestionLockoutEnd     *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
