// Package setlist tracks the controller's working list and its drift
// from the persisted snapshot.
package setlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/domain"
	"github.com/openworship/cast/internal/repository"
)

// ErrLoadCancelled reports that the user kept their unsaved edits.
var ErrLoadCancelled = errors.New("load cancelled")

// Decision resolves a load over a dirty working copy. Loading must
// never silently discard unsaved edits.
type Decision int

const (
	SaveThenLoad Decision = iota
	DiscardThenLoad
	CancelLoad
)

// DecideFunc asks the user which way to resolve; it is only consulted
// when the working copy is dirty.
type DecideFunc func() Decision

// Reconciler holds the working copy. Mutations are purely local and
// mark it dirty; only Save touches the repository.
type Reconciler struct {
	repo repository.SetlistRepository

	id    string
	name  string
	items []domain.SetlistItem
	dirty bool
}

func NewReconciler(repo repository.SetlistRepository) *Reconciler {
	return &Reconciler{repo: repo, name: "untitled"}
}

func (r *Reconciler) ID() string  { return r.id }
func (r *Reconciler) Dirty() bool { return r.dirty }

// Items returns a copy; the working list is never shared mutable.
func (r *Reconciler) Items() []domain.SetlistItem {
	out := make([]domain.SetlistItem, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Reconciler) AddItem(item domain.SetlistItem) domain.SetlistItem {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	r.items = append(r.items, item)
	r.dirty = true
	return item
}

func (r *Reconciler) RemoveItem(id string) bool {
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			r.dirty = true
			return true
		}
	}
	return false
}

// MoveItem reorders an item to the given position.
func (r *Reconciler) MoveItem(id string, to int) bool {
	from := -1
	for i := range r.items {
		if r.items[i].ID == id {
			from = i
			break
		}
	}
	if from < 0 || to < 0 || to >= len(r.items) {
		return false
	}
	item := r.items[from]
	r.items = append(r.items[:from], r.items[from+1:]...)
	r.items = append(r.items[:to], append([]domain.SetlistItem{item}, r.items[to:]...)...)
	r.dirty = true
	return true
}

func (r *Reconciler) UpdateItem(item domain.SetlistItem) bool {
	for i := range r.items {
		if r.items[i].ID == item.ID {
			r.items[i] = item
			r.dirty = true
			return true
		}
	}
	return false
}

// SetQuickItem upserts the ad-hoc scratch item. The sentinel id keeps
// repeated edits in one slot instead of appending duplicates.
func (r *Reconciler) SetQuickItem(text string) domain.SetlistItem {
	item := domain.SetlistItem{
		ID:     domain.QuickItemID,
		Kind:   domain.ItemSong,
		Title:  "Quick slide",
		Slides: []domain.SlideContent{{OriginalText: text}},
	}
	if r.UpdateItem(item) {
		return item
	}
	return r.AddItem(item)
}

// Save serializes the working list into the persisted representation
// and clears the drift marker.
func (r *Reconciler) Save(ctx context.Context) error {
	s := &domain.Setlist{ID: r.id, Name: r.name, Items: r.Items()}
	var err error
	if r.id == "" {
		err = r.repo.Create(ctx, s)
		r.id = s.ID
	} else {
		err = r.repo.Replace(ctx, s)
	}
	if err != nil {
		return fmt.Errorf("save setlist: %w", err)
	}
	r.dirty = false
	log.Info().Str("module", "setlist").Str("setlist_id", r.id).
		Int("items", len(r.items)).Msg("setlist saved")
	return nil
}

// Load replaces the working list with the persisted target. A dirty
// working copy must be resolved through decide first.
func (r *Reconciler) Load(ctx context.Context, targetID string, decide DecideFunc) error {
	if r.dirty {
		switch decide() {
		case SaveThenLoad:
			if err := r.Save(ctx); err != nil {
				return err
			}
		case DiscardThenLoad:
			log.Info().Str("module", "setlist").Str("setlist_id", r.id).Msg("unsaved edits discarded")
		case CancelLoad:
			return ErrLoadCancelled
		}
	}

	target, err := r.repo.Get(ctx, targetID)
	if err != nil {
		return fmt.Errorf("load setlist: %w", err)
	}
	r.id = target.ID
	r.name = target.Name
	r.items = make([]domain.SetlistItem, len(target.Items))
	copy(r.items, target.Items)
	r.dirty = false
	log.Info().Str("module", "setlist").Str("setlist_id", r.id).
		Int("items", len(r.items)).Msg("setlist loaded")
	return nil
}
