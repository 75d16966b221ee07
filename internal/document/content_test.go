package document

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func operators(ops []Op) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.Operator
	}
	return out
}

func TestLex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"text object", "BT /F1 12 Tf 72 700 Td (Hi) Tj ET", []string{"BT", "Tf", "Td", "Tj", "ET"}},
		{"comments", "q % save\n1 0 0 1 0 0 cm %move\nQ", []string{"q", "cm", "Q"}},
		{"tj array", "[(A) -120 (B)] TJ", []string{"TJ"}},
		{"quotes", "(a) ' 1 2 (b) \"", []string{"'", "\""}},
		{"inline image", "q BI /W 1 /H 1 /BPC 8 /CS /G ID \x80 EI Q", []string{"q", "BI", "Q"}},
		{"marked content", "/Span <</ActualText (x)>> BDC EMC", []string{"BDC", "EMC"}},
		{"star operators", "0 0 m 10 10 l f* T*", []string{"m", "l", "f*", "T*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Lex([]byte(tt.input))
			if err != nil {
				t.Fatalf("Lex() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, operators(ops)); diff != "" {
				t.Errorf("operators mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLexOperands(t *testing.T) {
	ops, err := Lex([]byte(`[(a\(b\)) -250.5 <4142>] TJ /F#202 9 Tf (\101\nx) Tj`))
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d ops, want 3", len(ops))
	}

	arr := ops[0].Operands[0]
	if arr.Kind != OperandArray || len(arr.Items) != 3 {
		t.Fatalf("TJ operand = %+v", arr)
	}
	if got := string(arr.Items[0].Str); got != "a(b)" {
		t.Errorf("escaped string = %q, want %q", got, "a(b)")
	}
	if arr.Items[1].Num != -250.5 {
		t.Errorf("kerning = %v, want -250.5", arr.Items[1].Num)
	}
	if got := string(arr.Items[2].Str); got != "AB" {
		t.Errorf("hex string = %q, want AB", got)
	}

	if got := string(ops[1].Operands[0].Str); got != "F 2" {
		t.Errorf("name = %q, want %q", got, "F 2")
	}
	if got := string(ops[2].Operands[0].Str); got != "A\nx" {
		t.Errorf("octal string = %q", got)
	}
	if ops[2].Kind != OpText || ops[1].Kind != OpTextState {
		t.Errorf("kinds = %v, %v", ops[2].Kind, ops[1].Kind)
	}
}

func TestLexTruncated(t *testing.T) {
	for _, input := range []string{"BT (unterminated", "[1 2", "<414"} {
		if _, err := Lex([]byte(input)); !errors.Is(err, errTruncated) {
			t.Errorf("Lex(%q) error = %v, want errTruncated", input, err)
		}
	}
}

func TestOpBytes(t *testing.T) {
	ops, err := Lex([]byte("BT /F1 12 Tf (x) Tj ET"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(ops[1].Bytes()); got != "/F1 12 Tf" {
		t.Errorf("raw bytes = %q", got)
	}

	synth := NewOp("TJ", Array(Number(-1234.56789), String([]byte{0, 1})))
	if got := string(synth.Bytes()); got != "[-1234.5679 <0001>] TJ" {
		t.Errorf("synthesized = %q", got)
	}
	if got := string(NewOp("Tf", Name("A B"), Number(10)).Bytes()); got != "/A#20B 10 Tf" {
		t.Errorf("name escaping = %q", got)
	}
	if got := string(WriteOps([]Op{NewOp("q"), NewOp("Q")})); got != "q\nQ\n" {
		t.Errorf("WriteOps = %q", got)
	}
}

func TestMatrix(t *testing.T) {
	m := Matrix{2, 0, 0, 2, 10, 20}
	p := m.Apply(Point{1, 1})
	if p != (Point{12, 22}) {
		t.Errorf("Apply = %v", p)
	}
	back := m.Inverse().Apply(p)
	if math.Abs(back.X-1) > 1e-9 || math.Abs(back.Y-1) > 1e-9 {
		t.Errorf("Inverse round trip = %v", back)
	}

	// translate then scale
	tr := Matrix{1, 0, 0, 1, 5, 0}.Mul(Matrix{2, 0, 0, 2, 0, 0})
	if got := tr.Apply(Point{}); got != (Point{10, 0}) {
		t.Errorf("Mul order = %v", got)
	}

	rot := Matrix{0, 1, -1, 0, 0, 0}
	if rot.Upright() {
		t.Error("rotation reported upright")
	}
	if !m.Upright() {
		t.Error("scale reported not upright")
	}
	if got := rot.TransformRect(Rect{0, 0, 2, 1}); got != (Rect{-1, 0, 0, 2}) {
		t.Errorf("TransformRect = %v", got)
	}
}

func TestRect(t *testing.T) {
	a := NewRect(10, 10, 0, 0)
	b := Rect{5, 5, 20, 20}
	if a != (Rect{0, 0, 10, 10}) {
		t.Errorf("NewRect normalisation = %v", a)
	}
	if got := a.Intersect(b).Area(); got != 25 {
		t.Errorf("intersection area = %v, want 25", got)
	}
	if got := a.Union(b); got != (Rect{0, 0, 20, 20}) {
		t.Errorf("Union = %v", got)
	}
	if got := (Rect{}).Union(b); got != b {
		t.Errorf("zero Union = %v", got)
	}
	if !b.Contains(Rect{6, 6, 7, 7}) || b.Contains(a) {
		t.Error("Contains mismatch")
	}
	if !(Rect{30, 30, 40, 40}).Clip(a).Empty() {
		t.Error("disjoint clip not empty")
	}
}

func TestParseToUnicode(t *testing.T) {
	cmap := `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
2 beginbfchar
<0003> <0020>
<0024> <0041>
endbfchar
2 beginbfrange
<0044> <0046> <0061>
<0050> <0051> [<00660069> <00660066>]
endbfrange
endcmap`
	m := parseToUnicode([]byte(cmap))
	if m.codeBytes != 2 {
		t.Errorf("codeBytes = %d, want 2", m.codeBytes)
	}
	want := map[uint32]string{
		0x03: " ", 0x24: "A",
		0x44: "a", 0x45: "b", 0x46: "c",
		0x50: "fi", 0x51: "ff",
	}
	if diff := cmp.Diff(want, m.chars); diff != "" {
		t.Errorf("chars mismatch (-want +got):\n%s", diff)
	}
}
