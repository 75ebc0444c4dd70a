// Package knowledge holds the fixed background text that every prompt is
// grounded on.
package knowledge

import _ "embed"

//go:embed context.md
var devColorContext string

// Context returns the /dev/color knowledge base: ten question and answer
// pairs, interpolated into prompts as opaque text.
func Context() string {
	return devColorContext
}
