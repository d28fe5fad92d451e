package db

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// textCleaner replaces ill-formed UTF-8 with U+FFFD, drops NUL bytes (which
// Postgres rejects in text columns) and normalizes to NFC.
func textCleaner() transform.Transformer {
	return transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(func(r rune) bool { return r == 0 })),
		norm.NFC,
	)
}

// CleanText returns s as valid, NFC-normalized UTF-8 without NUL characters.
// Upstream text occasionally carries stray bytes; they are replaced rather than
// silently dropped so the damage stays visible in the stored value.
func CleanText(s string) string {
	out, _, err := transform.String(textCleaner(), s)
	if err != nil {
		// transform.String only fails on transformer errors, none of which
		// the chain above produces for in-memory input.
		return s
	}
	return out
}

// CleanArgs returns a copy of args with every string (and non-nil *string)
// passed through CleanText. Other values are returned unchanged.
func CleanArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = CleanText(v)
		case *string:
			if v == nil {
				out[i] = nil
				continue
			}
			out[i] = CleanText(*v)
		default:
			out[i] = a
		}
	}
	return out
}
