package models

import "time"

// User is the tenant roster row. The snapshot endpoint joins the roster
// against the live registry so that members with no connection still show
// up as offline with their last recorded activity.
type User struct {
	ID         string    `gorm:"primaryKey;column:id" json:"id"`
	TenantID   string    `gorm:"index;column:tenant_id" json:"tenantId"`
	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"lastSeenAt"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
