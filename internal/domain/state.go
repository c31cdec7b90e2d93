package domain

// StateKind tags the PresentationState variant.
type StateKind string

const (
	StateBlank StateKind = "blank"
	StateSong  StateKind = "song"
	StateImage StateKind = "image"
	StateTool  StateKind = "tool"
)

// DisplayMode selects which text layers a display renders.
type DisplayMode string

const (
	ModeFull          DisplayMode = "full"
	ModeOriginalOnly  DisplayMode = "original"
	ModeTranslated    DisplayMode = "translated"
	ModeTransliterate DisplayMode = "transliterated"
)

// SlideContent is immutable once attached to a broadcast state; the
// controller sends a fresh state to change it, never a patch.
type SlideContent struct {
	OriginalText        string `json:"originalText"`
	Transliteration     string `json:"transliteration,omitempty"`
	Translation         string `json:"translation,omitempty"`
	TranslationOverflow string `json:"translationOverflow,omitempty"`
	VerseType           string `json:"verseType,omitempty"`
}

// PresentationState is the single current thing being displayed.
// Exactly one variant is populated; transitions are total replacements
// so a subscriber can render any state without prior context.
type PresentationState struct {
	Kind StateKind `json:"kind"`

	// Song fields.
	SlideIndex   int           `json:"slideIndex,omitempty"`
	SlideContent *SlideContent `json:"slideContent,omitempty"`
	DisplayMode  DisplayMode   `json:"displayMode,omitempty"`

	// Image field.
	ImageURL string `json:"imageUrl,omitempty"`

	// Tool field.
	ToolType string `json:"toolType,omitempty"`
}

func BlankState() PresentationState {
	return PresentationState{Kind: StateBlank}
}

func SongState(index int, content *SlideContent, mode DisplayMode) PresentationState {
	return PresentationState{
		Kind:         StateSong,
		SlideIndex:   index,
		SlideContent: content,
		DisplayMode:  mode,
	}
}

func ImageState(url string) PresentationState {
	return PresentationState{Kind: StateImage, ImageURL: url}
}

func ToolState(toolType string) PresentationState {
	return PresentationState{Kind: StateTool, ToolType: toolType}
}

// BackgroundSpec is a room-level rendering hint carried alongside the
// state; the core treats it as opaque.
type BackgroundSpec struct {
	Kind  string `json:"kind,omitempty"` // color | image | video
	Value string `json:"value,omitempty"`
}
