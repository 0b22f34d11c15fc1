package users

import "strings"

// Account is a registered user. ID is the user id habits and unlocks are keyed by.
type Account struct {
	ID               string `gorm:"column:id;primaryKey;size:64;not null"`
	Username         string `gorm:"column:username;size:190;not null;uniqueIndex"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string `gorm:"column:password_hash;size:255;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
