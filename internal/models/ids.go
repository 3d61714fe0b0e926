package models

import "github.com/google/uuid"

// NewID returns a fresh identifier such as "sub_5f0c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
