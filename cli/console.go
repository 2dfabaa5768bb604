// Console output for the chat drivers.
//
// Information Hiding:
// - ANSI escape sequences hidden behind semantic labels
// - Transcript replay formatting hidden

package cli

import (
	"fmt"
	"io"

	"github.com/richinex/colloquy/llm"
)

// Label is the semantic role of a piece of console output.
type Label int

const (
	LabelPlain Label = iota
	LabelChatID
	LabelUser
	LabelAssistant
	LabelTool
	LabelRoute
	LabelError
)

const ansiReset = "\033[0m"

// Palette maps labels to ANSI styles. It is immutable once built.
type Palette struct {
	styles map[Label]string
}

// NewPalette copies styles into a new Palette.
func NewPalette(styles map[Label]string) Palette {
	copied := make(map[Label]string, len(styles))
	for label, style := range styles {
		copied[label] = style
	}
	return Palette{styles: copied}
}

// DefaultPalette returns the bright colour scheme used by the drivers.
func DefaultPalette() Palette {
	return NewPalette(map[Label]string{
		LabelChatID:    "\033[93m", // yellow
		LabelUser:      "\033[92m", // green
		LabelAssistant: "\033[94m", // blue
		LabelTool:      "\033[95m", // violet
		LabelRoute:     "\033[96m", // cyan
		LabelError:     "\033[91m", // red
	})
}

// PlainPalette returns a palette without any styling.
func PlainPalette() Palette {
	return NewPalette(nil)
}

// Style returns the escape sequence for label, or "" if unstyled.
func (p Palette) Style(label Label) string {
	return p.styles[label]
}

// Console writes labelled output to an io.Writer.
type Console struct {
	w       io.Writer
	palette Palette
}

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer, palette Palette) *Console {
	return &Console{w: w, palette: palette}
}

// Printf writes formatted text in the label's style.
func (c *Console) Printf(label Label, format string, args ...interface{}) {
	style := c.palette.Style(label)
	if style == "" {
		fmt.Fprintf(c.w, format, args...)
		return
	}
	fmt.Fprint(c.w, style)
	fmt.Fprintf(c.w, format, args...)
	fmt.Fprint(c.w, ansiReset)
}

// Println writes text and a blank line in the label's style.
func (c *Console) Println(label Label, text string) {
	c.Printf(label, "%s\n\n", text)
}

// Begin switches to the label's style without resetting, for streamed text.
func (c *Console) Begin(label Label) {
	fmt.Fprint(c.w, c.palette.Style(label))
}

// Chunk writes a streamed fragment as is.
func (c *Console) Chunk(text string) {
	fmt.Fprint(c.w, text)
}

// End resets styling and closes a streamed block.
func (c *Console) End() {
	if len(c.palette.styles) > 0 {
		fmt.Fprint(c.w, ansiReset)
	}
	fmt.Fprint(c.w, "\n\n")
}

// ChatID announces the conversation id.
func (c *Console) ChatID(id string) {
	c.Println(LabelChatID, "Chat ID: "+id)
}

// Replay prints a resumed transcript: user turns and non-empty assistant
// turns. System prompts are not shown.
func (c *Console) Replay(messages []llm.ChatMessage) error {
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleTool:
		case llm.RoleUser:
			c.Println(LabelUser, m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				c.Println(LabelAssistant, m.Content)
			}
		default:
			return fmt.Errorf("cannot replay message: %w", m.Role.Validate())
		}
	}
	return nil
}
