package repository

import (
	"context"
	"errors"

	"github.com/openworship/cast/internal/domain"
)

var ErrSetlistNotFound = errors.New("setlist not found")

// SetlistRepository is the persistence collaborator for setlists. The
// core only needs create/read/replace; partial patches do not exist.
type SetlistRepository interface {
	Create(ctx context.Context, setlist *domain.Setlist) error
	Get(ctx context.Context, id string) (*domain.Setlist, error)
	Replace(ctx context.Context, setlist *domain.Setlist) error
	List(ctx context.Context) ([]domain.Setlist, error)
}
