package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Email    string    `json:"email" db:"email"`
	Password string    `json:"password,omitempty" db:"password"`
	Username string    `json:"username" db:"username"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
