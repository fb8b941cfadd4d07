package media

import (
	"errors"
	"time"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrStorage         = errors.New("storage error")
)

// Media is a stored upload that is not analyzed.
type Media struct {
	ID               string
	OwnerID          string
	OriginalFilename string
	StorageKey       string
	SizeBytes        int64
	UploadedAt       time.Time
}
