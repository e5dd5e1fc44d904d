package prep

import "strings"

// Absent reports whether a user-supplied value carries no information.
// Forms commonly send blanks or filler such as "N/A" for skipped fields.
func Absent(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "", "n/a", "na", "none", "null", "nil", "-", "--", "[]", "{}", "()", "tbd", "unknown", "undefined":
		return true
	default:
		return false
	}
}
