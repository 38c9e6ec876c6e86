package tactics

import (
	"regexp"
	"strings"
)

// faceGlyphs almost never show up in plain chat text, so one is enough to
// call the text a kaomoji wherever it appears.
var faceGlyphs = map[rune]bool{
	'▽': true, '∇': true, '≧': true, '≦': true, 'ω': true, '￣': true, '□': true,
	'╯': true, '╰': true, '‿': true, '◕': true, '◉': true, '♡': true, '･': true,
	'ˇ': true, '‸': true, '｀': true, '¬': true, '⁄': true, '˘': true, '☆': true,
	'★': true, '＾': true, '｡': true, '◡': true, 'ಠ': true, '≖': true, '⊙': true,
	'ˊ': true, 'ˋ': true, 'ヾ': true, 'ﾉ': true, '∀': true, '﹏': true, '⌒': true,
	'╥': true, 'Ծ': true, '๑': true,
}

// featureRunes only count inside brackets, where nothing else but other
// face parts is present. Outside a face they are ordinary punctuation.
var featureRunes = map[rune]bool{
	'^': true, '°': true, '´': true, '`': true, '•': true, 'ε': true, 'Д': true,
	'_': true, 'ー': true, '・': true, ';': true, '；': true, '>': true, '<': true,
	'~': true, '=': true, '*': true, 'o': true, 'O': true, 'T': true, 'x': true,
	'X': true, '0': true, '.': true, '-': true, ':': true, '\'': true, '/': true,
	'\\': true,
}

// Faces built from plain ASCII letters and punctuation need a whole-shape
// match so that QQ numbers, file_names and ellipses stay legal.
var bareFaces = regexp.MustCompile(
	`\^[\s_.\-~ωoO▽・]*\^` +
		`|[-=;>@]_[-=;<@]` +
		`|\._\.|>\.<` +
		`|(?:^|[^A-Za-z0-9_])(?:[oO0xX]_[oO0xX]|T[_.]?T|Q[AaWw_]Q)(?:$|[^A-Za-z0-9_])`,
)

var openers = map[rune]rune{'(': ')', '（': '）', '[': ']'}

// ContainsKaomoji reports whether s carries an emoticon face: a face glyph
// such as ≧ or ☆, a bare face like ^_^ or T_T, or a bracket holding only
// face parts like (._.) or (^_^;).
func ContainsKaomoji(s string) bool {
	runes := []rune(s)
	for _, r := range runes {
		if faceGlyphs[r] {
			return true
		}
	}
	if bareFaces.MatchString(s) {
		return true
	}
	for i, r := range runes {
		closer, ok := openers[r]
		if !ok {
			continue
		}
		end := indexRune(runes[i+1:], closer)
		if end < 0 {
			continue
		}
		if isFace(runes[i+1 : i+1+end]) {
			return true
		}
	}
	return false
}

func isFace(inner []rune) bool {
	body := []rune(strings.Join(strings.Fields(string(inner)), ""))
	if len(body) < 2 || len(body) > 16 {
		return false
	}
	features := 0
	for _, r := range body {
		if !featureRunes[r] {
			return false
		}
		switch r {
		case '.', '-', ':', '\'', '/', '\\':
		default:
			features++
		}
	}
	return features > 0
}

func indexRune(rs []rune, target rune) int {
	for i, r := range rs {
		if r == target {
			return i
		}
	}
	return -1
}
