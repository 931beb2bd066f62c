package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	Role      UserRole  `gorm:"size:20;not null;default:STAFF" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Actor is the caller of an engine operation, resolved once per request.
type Actor struct {
	UserId int
	Role   UserRole
}

func (a Actor) IsElevated() bool {
	return a.Role.IsElevated()
}

// ListElevatedStaffIds returns the ids of active users holding an elevated role.
func ListElevatedStaffIds(db *gorm.DB) ([]int, error) {
	var ids []int
	err := db.Model(&User{}).
		Where("role IN ? AND is_active = ?", ElevatedRoles, true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
