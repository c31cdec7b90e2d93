package domain

// CommandKind tags the Command variant.
type CommandKind string

const (
	CmdGotoSlide    CommandKind = "goto_slide"
	CmdNextSlide    CommandKind = "next_slide"
	CmdPrevSlide    CommandKind = "prev_slide"
	CmdIdentifySong CommandKind = "identify_song"
)

// Command is a high-level presentation command, produced either by the
// operator UI or by the MIDI decoder.
type Command struct {
	Kind CommandKind `json:"kind"`

	// GotoSlide target. Deliberately not clamped anywhere in the core;
	// a display renders "no content" for an index past the end.
	Index int `json:"index,omitempty"`

	// IdentifySong hash, a 24-bit identifier encoded across two notes.
	Hash uint32 `json:"hash,omitempty"`
}

func GotoSlide(index int) Command      { return Command{Kind: CmdGotoSlide, Index: index} }
func NextSlide() Command               { return Command{Kind: CmdNextSlide} }
func PrevSlide() Command               { return Command{Kind: CmdPrevSlide} }
func IdentifySong(hash uint32) Command { return Command{Kind: CmdIdentifySong, Hash: hash} }
