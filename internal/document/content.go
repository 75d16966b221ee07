package document

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// OpKind is the variant tag of a content operation.
type OpKind uint8

const (
	OpOther OpKind = iota
	// OpText paints glyphs: Tj, TJ, ' and ".
	OpText
	// OpTextState positions text or changes text state: BT, ET, Tf, Td, Tm, T*, Tc, ...
	OpTextState
	// OpPath constructs, paints or clips paths.
	OpPath
	// OpImage paints an XObject or inline image.
	OpImage
	// OpState changes the graphics state or colour.
	OpState
	// OpMarked delimits marked content.
	OpMarked
)

func (k OpKind) String() string {
	switch k {
	case OpText:
		return "text"
	case OpTextState:
		return "text-state"
	case OpPath:
		return "path"
	case OpImage:
		return "image"
	case OpState:
		return "state"
	case OpMarked:
		return "marked"
	default:
		return "other"
	}
}

var operatorKinds = map[string]OpKind{
	"Tj": OpText, "TJ": OpText, "'": OpText, "\"": OpText,

	"BT": OpTextState, "ET": OpTextState, "Tf": OpTextState, "Td": OpTextState,
	"TD": OpTextState, "Tm": OpTextState, "T*": OpTextState, "Tc": OpTextState,
	"Tw": OpTextState, "Tz": OpTextState, "TL": OpTextState, "Ts": OpTextState,
	"Tr": OpTextState,

	"m": OpPath, "l": OpPath, "c": OpPath, "v": OpPath, "y": OpPath, "h": OpPath,
	"re": OpPath, "S": OpPath, "s": OpPath, "f": OpPath, "F": OpPath, "f*": OpPath,
	"B": OpPath, "B*": OpPath, "b": OpPath, "b*": OpPath, "n": OpPath, "W": OpPath,
	"W*": OpPath, "sh": OpPath,

	"Do": OpImage, "BI": OpImage,

	"q": OpState, "Q": OpState, "cm": OpState, "gs": OpState, "w": OpState,
	"J": OpState, "j": OpState, "M": OpState, "d": OpState, "ri": OpState,
	"i": OpState, "CS": OpState, "cs": OpState, "SC": OpState, "SCN": OpState,
	"sc": OpState, "scn": OpState, "G": OpState, "g": OpState, "RG": OpState,
	"rg": OpState, "K": OpState, "k": OpState,

	"BMC": OpMarked, "BDC": OpMarked, "EMC": OpMarked, "MP": OpMarked, "DP": OpMarked,
}

// KindOf returns the variant tag for an operator.
func KindOf(operator string) OpKind {
	return operatorKinds[operator]
}

// OperandKind is the type of a content stream operand.
type OperandKind uint8

const (
	OperandNumber OperandKind = iota
	OperandName
	OperandString
	OperandArray
	OperandDict
	OperandBool
	OperandNull
)

// Operand is one PDF object preceding an operator. Strings hold their decoded
// bytes; names hold the name without the leading slash. Dict items alternate key, value.
type Operand struct {
	Kind  OperandKind
	Num   float64
	Str   []byte
	Bool  bool
	Items []Operand
}

func Number(v float64) Operand { return Operand{Kind: OperandNumber, Num: v} }
func Name(s string) Operand    { return Operand{Kind: OperandName, Str: []byte(s)} }
func String(b []byte) Operand  { return Operand{Kind: OperandString, Str: b} }
func Array(items ...Operand) Operand {
	return Operand{Kind: OperandArray, Items: items}
}

// Op is one content stream operation. Raw holds the exact source bytes for
// operations read from a stream and is empty for synthesized ones.
type Op struct {
	Kind     OpKind
	Operator string
	Operands []Operand
	Raw      []byte
}

// NewOp synthesizes an operation.
func NewOp(operator string, operands ...Operand) Op {
	return Op{Kind: KindOf(operator), Operator: operator, Operands: operands}
}

// Bytes returns the serialized operation, reusing Raw when present.
func (o Op) Bytes() []byte {
	if len(o.Raw) > 0 {
		return o.Raw
	}
	var buf bytes.Buffer
	for _, a := range o.Operands {
		writeOperand(&buf, a)
		buf.WriteByte(' ')
	}
	buf.WriteString(o.Operator)
	return buf.Bytes()
}

// WriteOps serializes operations one per line.
func WriteOps(ops []Op) []byte {
	var buf bytes.Buffer
	for i, o := range ops {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(o.Bytes())
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func writeOperand(buf *bytes.Buffer, a Operand) {
	switch a.Kind {
	case OperandNumber:
		buf.WriteString(FormatNumber(a.Num))
	case OperandName:
		buf.WriteByte('/')
		for _, c := range a.Str {
			if c < '!' || c > '~' || isDelimiter(c) || c == '#' {
				fmt.Fprintf(buf, "#%02X", c)
			} else {
				buf.WriteByte(c)
			}
		}
	case OperandString:
		buf.WriteByte('<')
		buf.WriteString(hex.EncodeToString(a.Str))
		buf.WriteByte('>')
	case OperandArray:
		buf.WriteByte('[')
		for i, it := range a.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeOperand(buf, it)
		}
		buf.WriteByte(']')
	case OperandDict:
		buf.WriteString("<<")
		for i, it := range a.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeOperand(buf, it)
		}
		buf.WriteString(">>")
	case OperandBool:
		if a.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case OperandNull:
		buf.WriteString("null")
	}
}

// FormatNumber writes n with at most four decimals.
func FormatNumber(n float64) string {
	r := math.Round(n*1e4) / 1e4
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Lex splits a decoded content stream into operations.
func Lex(data []byte) ([]Op, error) {
	lx := &lexer{data: data}
	return lx.run()
}

type lexer struct {
	data []byte
	pos  int
}

// errTruncated signals end of data inside a token.
var errTruncated = fmt.Errorf("unexpected end of content stream")

func (lx *lexer) run() ([]Op, error) {
	var ops []Op
	var operands []Operand
	start := -1

	for {
		lx.skipSpaceAndComments()
		if lx.pos >= len(lx.data) {
			break
		}
		if start < 0 {
			start = lx.pos
		}

		c := lx.data[lx.pos]
		if isRegular(c) && !isNumberStart(c) {
			word := lx.readRegular()
			switch word {
			case "true", "false":
				operands = append(operands, Operand{Kind: OperandBool, Bool: word == "true"})
				continue
			case "null":
				operands = append(operands, Operand{Kind: OperandNull})
				continue
			case "BI":
				if err := lx.skipInlineImage(); err != nil {
					return ops, err
				}
				ops = append(ops, Op{Kind: OpImage, Operator: "BI", Raw: lx.data[start:lx.pos]})
				operands, start = nil, -1
				continue
			}
			ops = append(ops, Op{
				Kind:     KindOf(word),
				Operator: word,
				Operands: operands,
				Raw:      lx.data[start:lx.pos],
			})
			operands, start = nil, -1
			continue
		}

		obj, err := lx.readObject()
		if err != nil {
			return ops, err
		}
		operands = append(operands, obj)
	}

	return ops, nil
}

func (lx *lexer) readObject() (Operand, error) {
	c := lx.data[lx.pos]
	switch {
	case c == '/':
		lx.pos++
		return Operand{Kind: OperandName, Str: decodeName(lx.readRegular())}, nil
	case c == '(':
		s, err := lx.readLiteralString()
		return Operand{Kind: OperandString, Str: s}, err
	case c == '<' && lx.peek(1) == '<':
		lx.pos += 2
		items, err := lx.readUntil('>')
		return Operand{Kind: OperandDict, Items: items}, err
	case c == '<':
		s, err := lx.readHexString()
		return Operand{Kind: OperandString, Str: s}, err
	case c == '[':
		lx.pos++
		items, err := lx.readUntil(']')
		return Operand{Kind: OperandArray, Items: items}, err
	case isNumberStart(c):
		word := lx.readRegular()
		v, err := strconv.ParseFloat(word, 64)
		if err != nil {
			// tolerate malformed numbers such as "--1" or "1.2.3"
			v = parseLooseNumber(word)
		}
		return Number(v), nil
	default:
		// stray delimiter such as ')' or '}'
		lx.pos++
		return Operand{Kind: OperandNull}, nil
	}
}

// readUntil reads operands up to the closing delimiter (']' or '>>').
func (lx *lexer) readUntil(end byte) ([]Operand, error) {
	var items []Operand
	for {
		lx.skipSpaceAndComments()
		if lx.pos >= len(lx.data) {
			return items, errTruncated
		}
		c := lx.data[lx.pos]
		if c == end {
			if end == '>' {
				if lx.peek(1) != '>' {
					return items, errTruncated
				}
				lx.pos += 2
			} else {
				lx.pos++
			}
			return items, nil
		}
		if isRegular(c) && !isNumberStart(c) {
			word := lx.readRegular()
			switch word {
			case "true", "false":
				items = append(items, Operand{Kind: OperandBool, Bool: word == "true"})
			case "null":
				items = append(items, Operand{Kind: OperandNull})
			default:
				// operators are not allowed inside arrays; keep as a name-like token
				items = append(items, Operand{Kind: OperandName, Str: []byte(word)})
			}
			continue
		}
		obj, err := lx.readObject()
		if err != nil {
			return items, err
		}
		items = append(items, obj)
	}
}

func (lx *lexer) readLiteralString() ([]byte, error) {
	lx.pos++ // (
	var out []byte
	depth := 1
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
			out = append(out, c)
		case '\\':
			if lx.pos >= len(lx.data) {
				return out, errTruncated
			}
			e := lx.data[lx.pos]
			lx.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if lx.peek(0) == '\n' {
					lx.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && lx.pos < len(lx.data); k++ {
						d := lx.data[lx.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						lx.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out, errTruncated
}

func (lx *lexer) readHexString() ([]byte, error) {
	lx.pos++ // <
	var digits []byte
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			if _, err := hex.Decode(out, digits); err != nil {
				return nil, err
			}
			return out, nil
		}
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	return nil, errTruncated
}

// skipInlineImage advances past "<dict> ID <data> EI".
func (lx *lexer) skipInlineImage() error {
	idx := bytes.Index(lx.data[lx.pos:], []byte("ID"))
	if idx < 0 {
		return errTruncated
	}
	lx.pos += idx + 2
	if lx.pos < len(lx.data) && isSpace(lx.data[lx.pos]) {
		lx.pos++
	}
	for i := lx.pos; i+1 < len(lx.data); i++ {
		if lx.data[i] == 'E' && lx.data[i+1] == 'I' &&
			(i == 0 || isSpace(lx.data[i-1])) &&
			(i+2 == len(lx.data) || isSpace(lx.data[i+2]) || isDelimiter(lx.data[i+2])) {
			lx.pos = i + 2
			return nil
		}
	}
	return errTruncated
}

func (lx *lexer) readRegular() string {
	start := lx.pos
	for lx.pos < len(lx.data) && isRegular(lx.data[lx.pos]) {
		lx.pos++
	}
	return string(lx.data[start:lx.pos])
}

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		if isSpace(c) {
			lx.pos++
			continue
		}
		if c == '%' {
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
			continue
		}
		return
	}
}

func (lx *lexer) peek(off int) byte {
	if lx.pos+off < len(lx.data) {
		return lx.data[lx.pos+off]
	}
	return 0
}

func decodeName(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			b, _ := hex.DecodeString(s[i+1 : i+3])
			out = append(out, b[0])
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func parseLooseNumber(s string) float64 {
	var b []byte
	dot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b = append(b, c)
		case c == '.' && !dot:
			dot = true
			b = append(b, c)
		case c == '-' && len(b) == 0:
			b = append(b, c)
		}
	}
	v, _ := strconv.ParseFloat(string(b), 64)
	return v
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	return !isSpace(c) && !isDelimiter(c)
}

func isNumberStart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.'
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
