package setlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openworship/cast/internal/domain"
	"github.com/openworship/cast/internal/repository"
)

// fakeRepo is an in-memory SetlistRepository.
type fakeRepo struct {
	setlists map[string]domain.Setlist
	creates  int
	replaces int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{setlists: make(map[string]domain.Setlist)}
}

func (f *fakeRepo) Create(_ context.Context, s *domain.Setlist) error {
	if s.ID == "" {
		s.ID = "generated-id"
	}
	f.setlists[s.ID] = *s
	f.creates++
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (*domain.Setlist, error) {
	s, ok := f.setlists[id]
	if !ok {
		return nil, repository.ErrSetlistNotFound
	}
	out := s
	return &out, nil
}

func (f *fakeRepo) Replace(_ context.Context, s *domain.Setlist) error {
	if _, ok := f.setlists[s.ID]; !ok {
		return repository.ErrSetlistNotFound
	}
	f.setlists[s.ID] = *s
	f.replaces++
	return nil
}

func (f *fakeRepo) List(_ context.Context) ([]domain.Setlist, error) {
	out := make([]domain.Setlist, 0, len(f.setlists))
	for _, s := range f.setlists {
		out = append(out, s)
	}
	return out, nil
}

func song(id, title string) domain.SetlistItem {
	return domain.SetlistItem{
		ID:    id,
		Kind:  domain.ItemSong,
		Title: title,
		Slides: []domain.SlideContent{
			{OriginalText: title + " verse"},
		},
	}
}

func TestMutationsMarkDirty(t *testing.T) {
	r := NewReconciler(newFakeRepo())
	assert.False(t, r.Dirty())

	added := r.AddItem(song("", "Amazing Grace"))
	assert.True(t, r.Dirty())
	assert.NotEmpty(t, added.ID)

	require.NoError(t, r.Save(context.Background()))
	assert.False(t, r.Dirty())

	assert.True(t, r.RemoveItem(added.ID))
	assert.True(t, r.Dirty())
}

func TestMoveItemReorders(t *testing.T) {
	r := NewReconciler(newFakeRepo())
	r.AddItem(song("a", "A"))
	r.AddItem(song("b", "B"))
	r.AddItem(song("c", "C"))

	require.True(t, r.MoveItem("c", 0))
	ids := func() []string {
		items := r.Items()
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids())

	assert.False(t, r.MoveItem("a", 7), "out-of-range target is refused")
	assert.False(t, r.MoveItem("nope", 0))
}

func TestSaveCreatesThenReplaces(t *testing.T) {
	repo := newFakeRepo()
	r := NewReconciler(repo)
	r.AddItem(song("a", "A"))

	require.NoError(t, r.Save(context.Background()))
	assert.Equal(t, 1, repo.creates)
	assert.NotEmpty(t, r.ID())

	r.AddItem(song("b", "B"))
	require.NoError(t, r.Save(context.Background()))
	assert.Equal(t, 1, repo.creates)
	assert.Equal(t, 1, repo.replaces)
}

func TestLoadCleanCopyNeedsNoDecision(t *testing.T) {
	repo := newFakeRepo()
	repo.setlists["target"] = domain.Setlist{
		ID: "target", Name: "Sunday", Items: []domain.SetlistItem{song("x", "X")},
	}

	r := NewReconciler(repo)
	err := r.Load(context.Background(), "target", func() Decision {
		t.Fatal("decide must not be consulted for a clean copy")
		return CancelLoad
	})
	require.NoError(t, err)
	assert.Equal(t, "target", r.ID())
	assert.Len(t, r.Items(), 1)
	assert.False(t, r.Dirty())
}

func TestLoadDirtyDiscard(t *testing.T) {
	repo := newFakeRepo()
	repo.setlists["target"] = domain.Setlist{
		ID: "target", Name: "Sunday", Items: []domain.SetlistItem{song("x", "X"), song("y", "Y")},
	}

	r := NewReconciler(repo)
	r.AddItem(song("local", "Unsaved"))
	require.True(t, r.Dirty())

	require.NoError(t, r.Load(context.Background(), "target", func() Decision { return DiscardThenLoad }))

	items := r.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "x", items[0].ID)
	assert.Equal(t, "y", items[1].ID)
	assert.False(t, r.Dirty())
	assert.Equal(t, 0, repo.creates, "discard must not persist the edits")
}

func TestLoadDirtySaveFirst(t *testing.T) {
	repo := newFakeRepo()
	repo.setlists["target"] = domain.Setlist{ID: "target", Name: "Sunday"}

	r := NewReconciler(repo)
	r.AddItem(song("local", "Keep me"))

	require.NoError(t, r.Load(context.Background(), "target", func() Decision { return SaveThenLoad }))
	assert.Equal(t, 1, repo.creates)
	saved := repo.setlists["generated-id"]
	require.Len(t, saved.Items, 1)
	assert.Equal(t, "Keep me", saved.Items[0].Title)
	assert.Equal(t, "target", r.ID())
}

func TestLoadDirtyCancel(t *testing.T) {
	repo := newFakeRepo()
	repo.setlists["target"] = domain.Setlist{ID: "target"}

	r := NewReconciler(repo)
	r.AddItem(song("local", "Unsaved"))

	err := r.Load(context.Background(), "target", func() Decision { return CancelLoad })
	assert.ErrorIs(t, err, ErrLoadCancelled)
	assert.True(t, r.Dirty(), "cancel keeps the working copy untouched")
	assert.Len(t, r.Items(), 1)
}

func TestQuickItemUsesSentinelSlot(t *testing.T) {
	r := NewReconciler(newFakeRepo())
	r.AddItem(song("a", "A"))

	r.SetQuickItem("first announcement")
	r.SetQuickItem("second announcement")

	items := r.Items()
	require.Len(t, items, 2, "repeated quick edits update one slot")
	quick := items[1]
	assert.Equal(t, domain.QuickItemID, quick.ID)
	require.Len(t, quick.Slides, 1)
	assert.Equal(t, "second announcement", quick.Slides[0].OriginalText)
}
