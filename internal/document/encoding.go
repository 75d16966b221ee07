package document

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// baseEncoding maps a single-byte code to a rune; 0 means unmapped.
type baseEncoding func(code byte) rune

func winAnsi(code byte) rune {
	r := charmap.Windows1252.DecodeByte(code)
	if r == '�' {
		return 0
	}
	return r
}

func macRoman(code byte) rune {
	r := charmap.Macintosh.DecodeByte(code)
	if r == '�' {
		return 0
	}
	return r
}

// standardHigh lists the Adobe StandardEncoding codes above 0x7E.
var standardHigh = map[byte]rune{
	0xA1: '¡', 0xA2: '¢', 0xA3: '£', 0xA4: '⁄', 0xA5: '¥', 0xA6: 'ƒ', 0xA7: '§',
	0xA8: '¤', 0xA9: '\'', 0xAA: '“', 0xAB: '«', 0xAC: '‹', 0xAD: '›', 0xAE: 'ﬁ',
	0xAF: 'ﬂ', 0xB1: '–', 0xB2: '†', 0xB3: '‡', 0xB4: '·', 0xB6: '¶', 0xB7: '•',
	0xB8: '‚', 0xB9: '„', 0xBA: '”', 0xBB: '»', 0xBC: '…', 0xBD: '‰', 0xBF: '¿',
	0xC1: '`', 0xC2: '´', 0xC3: 'ˆ', 0xC4: '˜', 0xC5: '¯', 0xC6: '˘', 0xC7: '˙',
	0xC8: '¨', 0xCA: '˚', 0xCB: '¸', 0xCD: '˝', 0xCE: '˛', 0xCF: 'ˇ', 0xD0: '—',
	0xE1: 'Æ', 0xE3: 'ª', 0xE8: 'Ł', 0xE9: 'Ø', 0xEA: 'Œ', 0xEB: 'º', 0xF1: 'æ',
	0xF5: 'ı', 0xF8: 'ł', 0xF9: 'ø', 0xFA: 'œ', 0xFB: 'ß',
}

func standard(code byte) rune {
	switch {
	case code == 0x27:
		return '’'
	case code == 0x60:
		return '‘'
	case code >= 0x20 && code < 0x7F:
		return rune(code)
	}
	return standardHigh[code]
}

func encodingByName(name string) baseEncoding {
	switch name {
	case "WinAnsiEncoding":
		return winAnsi
	case "MacRomanEncoding":
		return macRoman
	case "StandardEncoding":
		return standard
	}
	return nil
}

// glyphNames covers the Adobe Glyph List names that appear in
// /Differences arrays of Latin text fonts.
var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "quoteright": '’',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+', "comma": ',',
	"hyphen": '-', "minus": '−', "period": '.', "slash": '/', "zero": '0', "one": '1',
	"two": '2', "three": '3', "four": '4', "five": '5', "six": '6', "seven": '7',
	"eight": '8', "nine": '9', "colon": ':', "semicolon": ';', "less": '<',
	"equal": '=', "greater": '>', "question": '?', "at": '@', "bracketleft": '[',
	"backslash": '\\', "bracketright": ']', "asciicircum": '^', "underscore": '_',
	"grave": '`', "quoteleft": '‘', "braceleft": '{', "bar": '|', "braceright": '}',
	"asciitilde": '~', "bullet": '•', "endash": '–', "emdash": '—',
	"quotedblleft": '“', "quotedblright": '”', "quotesinglbase": '‚',
	"quotedblbase": '„', "ellipsis": '…', "dagger": '†', "daggerdbl": '‡',
	"degree": '°', "section": '§', "paragraph": '¶', "copyright": '©',
	"registered": '®', "trademark": '™', "periodcentered": '·', "multiply": '×',
	"divide": '÷', "plusminus": '±', "germandbls": 'ß', "dotlessi": 'ı',
	"fi": 'ﬁ', "fl": 'ﬂ', "ff": 'ﬀ', "ffi": 'ﬃ', "ffl": 'ﬄ',
	"AE": 'Æ', "ae": 'æ', "OE": 'Œ', "oe": 'œ', "Oslash": 'Ø', "oslash": 'ø',
	"Lslash": 'Ł', "lslash": 'ł', "nbspace": ' ', "sfthyphen": '­',
	"guillemotleft": '«', "guillemotright": '»', "guilsinglleft": '‹',
	"guilsinglright": '›', "exclamdown": '¡', "questiondown": '¿', "cent": '¢',
	"sterling": '£', "yen": '¥', "Euro": '€', "florin": 'ƒ', "currency": '¤',
	"perthousand": '‰', "circumflex": 'ˆ', "tilde": '˜', "macron": '¯',
	"breve": '˘', "dotaccent": '˙', "dieresis": '¨', "ring": '˚', "cedilla": '¸',
	"hungarumlaut": '˝', "ogonek": '˛', "caron": 'ˇ', "acute": '´',
	"fraction": '⁄', "mu": 'µ', "ordfeminine": 'ª', "ordmasculine": 'º',
	"onehalf": '½', "onequarter": '¼', "threequarters": '¾', "brokenbar": '¦',
	"logicalnot": '¬',
}

// accented letters follow the <base><accent> naming pattern
var accentMarks = map[string]rune{
	"acute": '́', "grave": '̀', "circumflex": '̂', "dieresis": '̈',
	"tilde": '̃', "ring": '̊', "cedilla": '̧', "caron": '̌',
}

// runeForGlyphName resolves a glyph name to text. Ligature names
// return several runes.
func runeForGlyphName(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if r, ok := glyphNames[name]; ok {
		return string(r)
	}
	if len(name) == 1 {
		return name
	}
	if strings.HasPrefix(name, "uni") && len(name) >= 7 {
		var sb strings.Builder
		for i := 3; i+4 <= len(name); i += 4 {
			v, err := strconv.ParseUint(name[i:i+4], 16, 32)
			if err != nil {
				return ""
			}
			sb.WriteRune(rune(v))
		}
		return sb.String()
	}
	if strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7 {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return string(rune(v))
		}
	}
	if len(name) > 1 {
		if mark, ok := accentMarks[name[1:]]; ok {
			return string([]rune{rune(name[0]), mark})
		}
	}
	if strings.Contains(name, "_") {
		var sb strings.Builder
		for _, part := range strings.Split(name, "_") {
			sb.WriteString(runeForGlyphName(part))
		}
		return sb.String()
	}
	return ""
}

// standard 14 advance widths (1/1000 em) for printable ASCII, 0x20..0x7E
var helveticaWidths = [95]uint16{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var timesWidths = [95]uint16{
	250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
	500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 278, 278, 564, 564, 564, 444,
	921, 722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889, 722, 722,
	556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611, 333, 278, 333, 469, 500,
	333, 444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778, 500, 500,
	500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444, 480, 200, 480, 541,
}

// standardMetrics returns width and vertical metrics for a standard 14 font
// name, or ok=false when the name is not one of them.
func standardMetrics(baseFont string) (widths func(r rune) float64, ascent, descent float64, ok bool) {
	name := baseFont
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	table := func(t *[95]uint16, fallback float64) func(r rune) float64 {
		return func(r rune) float64 {
			if r >= 0x20 && r <= 0x7E {
				return float64(t[r-0x20])
			}
			return fallback
		}
	}
	switch {
	case strings.HasPrefix(name, "Helvetica"), strings.HasPrefix(name, "Arial"):
		return table(&helveticaWidths, 556), 718, -207, true
	case strings.HasPrefix(name, "Times"):
		return table(&timesWidths, 500), 683, -217, true
	case strings.HasPrefix(name, "Courier"):
		return func(rune) float64 { return 600 }, 629, -157, true
	case name == "Symbol", name == "ZapfDingbats":
		return func(rune) float64 { return 600 }, 700, -200, true
	}
	return nil, 0, 0, false
}
