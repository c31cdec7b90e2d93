package domain

// QuickItemID is the sentinel id for ephemeral ad-hoc items so repeated
// edits update the same slot instead of appending duplicates.
const QuickItemID = "__quick__"

// ItemKind tags a setlist item.
type ItemKind string

const (
	ItemSong      ItemKind = "song"
	ItemImage     ItemKind = "image"
	ItemBlank     ItemKind = "blank"
	ItemScripture ItemKind = "scripture"
)

// SetlistItem carries its full content inline so playback never blocks
// on a fetch.
type SetlistItem struct {
	ID       string         `json:"id"`
	Kind     ItemKind       `json:"kind"`
	Title    string         `json:"title,omitempty"`
	Slides   []SlideContent `json:"slides,omitempty"`
	ImageURL string         `json:"imageUrl,omitempty"`
	// SongHash is the pairing identifier a MIDI controller sends to
	// select this item. Zero means not addressable by hash.
	SongHash uint32 `json:"songHash,omitempty"`
}

// Setlist is the persisted representation; the working copy lives in
// the reconciler.
type Setlist struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Items []SetlistItem `json:"items"`
}
