package account

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrVersionConflict = errors.New("account was modified concurrently")
	ErrInvalidAccount  = errors.New("invalid account record")
	ErrInvalidTier     = errors.New("invalid subscription tier")
	ErrInvalidPlan     = errors.New("invalid billing plan")
	ErrMissingUserID   = errors.New("user ID is required")
)
