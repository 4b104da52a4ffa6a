package schema

import "strings"

// MaxSheetNameLength is the spreadsheet limit on sheet name length.
const MaxSheetNameLength = 31

// DefaultSheetName is used when a name sanitizes to nothing.
const DefaultSheetName = "Sheet1"

// SafeSheetName makes name acceptable as a sheet name: characters the
// format forbids (: \ / ? * [ ]) become spaces, leading and trailing
// apostrophes are trimmed, and the result is capped at 31 characters.
func SafeSheetName(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return ' '
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)

	replaced = strings.TrimSpace(strings.Trim(replaced, "'"))
	if replaced == "" {
		return DefaultSheetName
	}

	runes := []rune(replaced)
	if len(runes) > MaxSheetNameLength {
		replaced = strings.TrimSpace(string(runes[:MaxSheetNameLength]))
	}
	return replaced
}
