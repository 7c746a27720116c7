package tokenizer

import "golang.org/x/text/unicode/norm"

// NormalizeUnicode applies NFKC normalization to convert
// mathematical/stylistic Unicode variants to ASCII equivalents.
// Phishing text uses these variants to dodge keyword filters,
// so they are folded before subword tokenization.
//
// Examples:
//
//	𝐕𝐞𝐫𝐢𝐟𝐲 → Verify (mathematical bold)
//	Ｖｅｒｉｆｙ → Verify (fullwidth)
//	ⓥⓔⓡⓘⓕⓨ → verify (circled)
func NormalizeUnicode(text string) (normalized string, wasNormalized bool) {
	normalized = norm.NFKC.String(text)
	wasNormalized = normalized != text
	return
}
