package models

import "time"

// UserAccount is a registered student. Username is case-sensitive and unique.
type UserAccount struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username     string    `json:"username" gorm:"uniqueIndex;type:varchar(100);not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"` // Never expose in JSON
	CreatedAt    time.Time `json:"created_at"`
}

// TableName overrides the table name for UserAccount
func (UserAccount) TableName() string {
	return "accounts"
}
