package input

import "strings"

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// BracketedPaste wraps text in bracketed-paste markers.
func BracketedPaste(text string) []byte {
	return []byte(pasteStart + text + pasteEnd)
}

// MaybeWrapPaste wraps multi-line text unless it already carries a start
// marker. Single-line text is sent as is.
func MaybeWrapPaste(text string) []byte {
	if strings.Contains(text, "\n") && !strings.Contains(text, pasteStart) {
		return BracketedPaste(text)
	}
	return []byte(text)
}
