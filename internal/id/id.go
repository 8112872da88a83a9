// Package id generates prefixed identifiers for stored records and live sessions.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the record families the server creates.
const (
	Highlight = "hl"
	Note      = "note"
	Bookmark  = "bm"
	Session   = "ses"
	Client    = "sse"
)

// Generate returns "<prefix>-<nanoid>". NanoIDs are URL safe, which keeps ids usable as path segments.
func Generate(prefix string) (string, error) {
	n, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate %s id: %w", prefix, err)
	}
	return prefix + "-" + n, nil
}
