package store

import (
	"errors"

	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
)

// ErrKeyNotFound is returned by backends for absent keys. It never leaves the package boundary
// unwrapped; public methods translate it to a domain error.
var ErrKeyNotFound = errors.New("key not found")

// Sentinel errors. They compare by code, so errors.Is(err, ErrNotFound) holds for every
// not-found error below.
var (
	ErrNotFound      = domainerrors.ErrNotFound
	ErrInvalidInput  = domainerrors.ErrValidation
	ErrAlreadyExists = domainerrors.ErrAlreadyExists

	ErrAnnotationNotFound = domainerrors.NotFound("annotation not found")
	ErrNotANote           = domainerrors.Conflict("annotation is not a note")
	ErrBookNotFound       = domainerrors.NotFound("book not found")
	ErrProgressNotFound   = domainerrors.NotFound("no reading progress for book")
	ErrFavoriteNotFound   = domainerrors.NotFound("favorite not found")
)

func isKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
