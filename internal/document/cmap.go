package document

import (
	"unicode/utf16"
)

// toUnicodeMap is a parsed ToUnicode CMap.
type toUnicodeMap struct {
	// codeBytes is the shortest code length declared in codespacerange.
	codeBytes int
	chars     map[uint32]string
}

// parseToUnicode reads bfchar and bfrange mappings. CMaps share PostScript
// token syntax with content streams, so the content lexer does the tokenizing.
func parseToUnicode(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{chars: make(map[uint32]string)}
	ops, _ := Lex(data)

	for _, op := range ops {
		switch op.Operator {
		case "endcodespacerange":
			for i := 0; i+1 < len(op.Operands); i += 2 {
				n := len(op.Operands[i].Str)
				if n > 0 && (m.codeBytes == 0 || n < m.codeBytes) {
					m.codeBytes = n
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(op.Operands); i += 2 {
				src, dst := op.Operands[i], op.Operands[i+1]
				if src.Kind != OperandString {
					continue
				}
				if dst.Kind == OperandName {
					m.chars[codeValue(src.Str)] = runeForGlyphName(string(dst.Str))
					continue
				}
				m.chars[codeValue(src.Str)] = decodeUTF16(dst.Str)
			}
		case "endbfrange":
			for i := 0; i+2 < len(op.Operands); i += 3 {
				lo, hi, dst := op.Operands[i], op.Operands[i+1], op.Operands[i+2]
				if lo.Kind != OperandString || hi.Kind != OperandString {
					continue
				}
				start, end := codeValue(lo.Str), codeValue(hi.Str)
				if end < start || end-start > 0xFFFF {
					continue
				}
				switch dst.Kind {
				case OperandArray:
					for k, item := range dst.Items {
						if start+uint32(k) > end {
							break
						}
						m.chars[start+uint32(k)] = decodeUTF16(item.Str)
					}
				case OperandString:
					units := utf16Units(dst.Str)
					if len(units) == 0 {
						continue
					}
					for c := start; c <= end; c++ {
						u := append([]uint16(nil), units...)
						u[len(u)-1] += uint16(c - start)
						m.chars[c] = string(utf16.Decode(u))
					}
				}
			}
		}
	}

	if m.codeBytes == 0 {
		m.codeBytes = 1
	}
	return m
}

func codeValue(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func utf16Units(b []byte) []uint16 {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return units
}

func decodeUTF16(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	return string(utf16.Decode(utf16Units(b)))
}
