package grid

import "errors"

var (
	ErrOccupied     = errors.New("grid: position occupied")
	ErrUnknownOwner = errors.New("grid: unknown owner")
	ErrUnknownKind  = errors.New("grid: unknown block kind")
	ErrInvalidTier  = errors.New("grid: invalid tier")
	ErrNoRecipe     = errors.New("grid: unknown recipe")
	ErrMirror       = errors.New("grid: mirror is read-only")
)
