package models

import (
	"time"
)

// Operator token issued to reporting and admin collaborators
type IssuedToken struct {
	Value     string
	Subject   string
	ExpiresAt time.Time
}
