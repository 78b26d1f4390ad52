package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Classification of how two guest-name strings differ.
const (
	ChangeEncodingCorrection = "encoding_correction"
	ChangeDiacriticsOnly     = "diacritics_only"
	ChangeMinorCorrection    = "minor_correction"
	ChangeSignificant        = "significant_change"
)

// NameDifference is the analysis attached to a guest-name conflict so a
// reviewer can tell a cosmetic encoding fix from a genuine guest swap.
// It is a pure function of the two strings.
type NameDifference struct {
	Current             string
	Incoming            string
	Type                string
	LikelyEncodingIssue bool
}

// Threshold on normalized edit distance between a typo and a different name.
const minorDistanceMax = 0.2

// AnalyzeNameDifference classifies the difference between the stored guest
// name and the incoming spreadsheet value. Callers only invoke it for
// strings that already differ verbatim.
func AnalyzeNameDifference(current, incoming string) NameDifference {
	d := NameDifference{Current: current, Incoming: incoming}

	if (current == "") != (incoming == "") {
		d.Type = ChangeSignificant
		return d
	}

	curBase := baseForm(current)
	incBase := baseForm(incoming)

	// Same skeleton, different dressing: accents stripped, curly vs straight
	// apostrophes, ss vs ß.
	if curBase == incBase && current != incoming {
		d.Type = ChangeDiacriticsOnly
		d.LikelyEncodingIssue = true
		return d
	}

	if hasMojibake(current) || hasMojibake(incoming) {
		d.Type = ChangeEncodingCorrection
		d.LikelyEncodingIssue = true
		return d
	}

	if normalizedDistance(curBase, incBase) <= minorDistanceMax {
		d.Type = ChangeMinorCorrection
	} else {
		d.Type = ChangeSignificant
	}
	return d
}

// replacements that NFKD decomposition does not reduce; applied before
// decomposition.
var baseReplacer = strings.NewReplacer(
	"ß", "ss",
	"ẞ", "SS",
	"æ", "ae",
	"Æ", "AE",
	"ø", "o",
	"Ø", "O",
	"đ", "d",
	"Đ", "D",
	"’", "'",
	"‘", "'",
	"´", "'",
	"`", "'",
	"“", `"`,
	"”", `"`,
	"„", `"`,
)

// baseForm reduces a name to its unaccented skeleton: explicit mappings, then
// NFKD decomposition with combining marks stripped.
func baseForm(s string) string {
	decomposed := norm.NFKD.String(baseReplacer.Replace(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Runes that show up as the first half of a UTF-8 sequence decoded through
// Latin-1/Windows-1252 (0xC2-0xC5 as Latin-1) or a Central-European single
// byte table (0xC3 as Latin-2 yields Ă).
var mojibakeLeads = map[rune]bool{
	'Â': true, 'Ã': true, 'Ä': true, 'Å': true, 'Ă': true,
}

// Windows-1252 remaps bytes 0x80-0x9F onto printable punctuation; any of
// these directly after a lead rune is the classic mojibake trail.
const cp1252Trail = "€‚ƒ„…†‡ˆ‰Š‹ŒŽ‘’“”•–—˜™š›œžŸ"

// hasMojibake reports whether a string bears the signature of text corrupted
// by a character-encoding mismatch: replacement characters, stray control
// characters, or a lead/trail rune pair consistent with UTF-8 bytes having
// been decoded through a single-byte codepage.
func hasMojibake(s string) bool {
	prev := rune(0)
	for _, r := range s {
		if r == '�' {
			return true
		}
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return true
		}
		if mojibakeLeads[prev] && isMojibakeTrail(r) {
			return true
		}
		prev = r
	}
	return false
}

func isMojibakeTrail(r rune) bool {
	if r >= 0x80 && r <= 0xbf {
		return true
	}
	return strings.ContainsRune(cp1252Trail, r)
}

// levenshtein computes the rune-level edit distance using two rows instead of
// the full matrix.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}
	if len(ar) > len(br) {
		ar, br = br, ar
	}

	prev := make([]int, len(ar)+1)
	curr := make([]int, len(ar)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(br); j++ {
		curr[0] = j
		for i := 1; i <= len(ar); i++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[i] = min3(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ar)]
}

// normalizedDistance is the edit distance divided by the longer string's rune
// length; 0 for two empty strings.
func normalizedDistance(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein(a, b)) / float64(longest)
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
