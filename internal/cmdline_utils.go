// Command line argument helpers

package coreaffinity_internal

import (
	"bytes"
	"strings"
)

const (
	// The help usage message line wraparound default width:
	FLAG_USAGE_WIDTH_DEFAULT = 58
)

// Format flag usage for the help message by re-wrapping the words to the given
// width. The original line breaks and leading white spaces are discarded, so
// that the usage can be written as an indented raw string literal.
func FormatFlagUsageWidth(usage string, width int) string {
	buf := &bytes.Buffer{}
	lineLen := 0
	for i, word := range strings.Fields(usage) {
		if i > 0 {
			if lineLen+len(word)+1 > width {
				buf.WriteByte('\n')
				lineLen = 0
			} else {
				buf.WriteByte(' ')
				lineLen++
			}
		}
		buf.WriteString(word)
		lineLen += len(word)
	}
	return buf.String()
}

func FormatFlagUsage(usage string) string {
	return FormatFlagUsageWidth(usage, FLAG_USAGE_WIDTH_DEFAULT)
}
