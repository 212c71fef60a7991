package profile

import "strings"

// NormalizePinyin canonicalizes a romanized name into "Family, GivenName"
// form: the first token is the family name, every later token is concatenated
// into one given-name block, joined with ", ".
//
//	"Sun JianFen"  -> "Sun, JianFen"
//	"Sun Jian Fen" -> "Sun, JianFen"
//	"Sun, JianFen" -> "Sun, JianFen" (idempotent)
func NormalizePinyin(name string) string {
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		return strings.TrimSuffix(tokens[0], ",")
	}
	family := strings.TrimSuffix(tokens[0], ",")
	given := strings.Join(tokens[1:], "")
	out := family + ", " + given
	// Double spacing after the comma occasionally survives OCR.
	return strings.ReplaceAll(out, ",  ", ", ")
}
