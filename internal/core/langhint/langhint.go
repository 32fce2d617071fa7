// Package langhint guesses the writing script and, when unambiguous, the language of short texts
// such as repository descriptions and account bios
package langhint

import "unicode"

// minLetters is the letter count below which no language is guessed
const minLetters = 20

// script is one candidate; order is the tie-break, specific scripts before Latin
type script struct {
	name  string
	table *unicode.RangeTable
	// lang is set only where the script alone names the language
	lang string
}

var scripts = []script{
	{"hiragana", unicode.Hiragana, "ja"},
	{"katakana", unicode.Katakana, "ja"},
	{"hangul", unicode.Hangul, "ko"},
	{"han", unicode.Han, ""}, // zh or ja
	{"arabic", unicode.Arabic, "ar"},
	{"hebrew", unicode.Hebrew, "he"},
	{"thai", unicode.Thai, "th"},
	{"greek", unicode.Greek, "el"},
	{"cyrillic", unicode.Cyrillic, ""}, // ru, uk, bg, ...
	{"georgian", unicode.Georgian, "ka"},
	{"armenian", unicode.Armenian, "hy"},
	{"devanagari", unicode.Devanagari, ""}, // hi, mr, ne, ...
	{"latin", unicode.Latin, ""},
}

// Hint is the outcome of Detect
type Hint struct {
	// Script is the predominant script in lower case, empty when s has no letters
	Script string
	// Lang is a BCP-47 code, empty when ambiguous or the text is too short
	Lang string
}

// Detect counts letters per script and picks the predominant one
// kana anywhere marks Japanese even when Han letters dominate
func Detect(s string) Hint {
	counts := make([]int, len(scripts))
	total := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		for i, sc := range scripts {
			if unicode.Is(sc.table, r) {
				counts[i]++
				break
			}
		}
	}

	var h Hint
	best := 0
	for i, n := range counts {
		if n > best {
			best, h.Script = n, scripts[i].name
		}
	}
	if total < minLetters {
		return h
	}
	// first decisive script present wins, in table order
	for i, sc := range scripts {
		if counts[i] > 0 && sc.lang != "" {
			h.Lang = sc.lang
			break
		}
	}
	return h
}
