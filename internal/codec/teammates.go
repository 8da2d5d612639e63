package codec

import "strings"

// TeammateDelimiter joins teammate names in storage.
const TeammateDelimiter = ","

// SplitTeammates parses a stored teammates cell. Legacy rows are comma-joined,
// newer ones newline-joined; both give the same list.
func SplitTeammates(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			names = append(names, f)
		}
	}
	return names
}

// NormalizeTeammates flattens entries that still carry a delimiter (a pasted
// textarea, for example), trims them and drops empties. Order is kept.
func NormalizeTeammates(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, SplitTeammates(n)...)
	}
	return out
}

// JoinTeammates normalizes names and joins them with TeammateDelimiter.
func JoinTeammates(names []string) string {
	return strings.Join(NormalizeTeammates(names), TeammateDelimiter)
}
