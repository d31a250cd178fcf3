package util

import (
	"strings"
	"unicode"
)

// contentReplacer maps characters that chat clients auto-substitute on edit
// back to what command parsing expects.
var contentReplacer = strings.NewReplacer(
	"—", "--",
	"'", "′",
	"‘", "′",
	"’", "′",
)

// NormalizeEditedContent rewrites the content of an edited message before it
// is re-dispatched as a command.
func NormalizeEditedContent(s string) string {
	return contentReplacer.Replace(s)
}

// TrimCommand splits "name rest of args" after the prefix has been removed.
// Any whitespace ends the name, including newlines and tabs.
func TrimCommand(s string) (name, args string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	name = s
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		name, args = s[:i], s[i:]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}
