package repository

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// letters NFD does not decompose into a base letter plus marks
var latinFolds = strings.NewReplacer(
	"ß", "ss",
	"Æ", "AE", "æ", "ae",
	"Œ", "OE", "œ", "oe",
	"Ø", "O", "ø", "o",
	"Ł", "L", "ł", "l",
	"Đ", "D", "đ", "d",
	"Ð", "D", "ð", "d",
	"Þ", "Th", "þ", "th",
	"ı", "i",
)

// NormalizeName strips diacritics from Latin letters and folds the special
// ones so names display consistently. Marks on other scripts are kept.
func NormalizeName(name string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(decomposed))
	latinBase := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			if latinBase {
				continue
			}
		} else {
			latinBase = unicode.Is(unicode.Latin, r)
		}
		b.WriteRune(r)
	}

	return latinFolds.Replace(norm.NFC.String(b.String()))
}
