package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// User is a marina member or administrator. Status carries the member's
// financial standing and is derived by the ledger.
type User struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Email     string           `gorm:"column:email;type:text;not null;uniqueIndex"`
	Phone     *string          `gorm:"column:phone"`
	Role      enums.UserRole   `gorm:"column:role;type:user_role;not null;default:'user'"`
	Status    enums.UserStatus `gorm:"column:status;type:user_status;not null;default:'active'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// IsAdmin reports whether the user bypasses member-only booking rules.
func (u User) IsAdmin() bool {
	return u.Role == enums.UserRoleAdmin
}
