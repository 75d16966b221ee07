package rebuild

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/zeebo/blake3"

	"pdf-translator/internal/document"
	"pdf-translator/internal/logger"
)

// embedFont writes a substitute font into the document as a Type0 font with
// an Identity-H encoding and sets its Ref.
func embedFont(doc *document.Document, f *document.FontResource) error {
	sub := f.Substitute
	ids, glyphs := sub.Glyphs()
	if len(ids) == 0 {
		return nil
	}

	fail := func(msg string, err error) error {
		return document.NewSerializeError(document.InvalidFontSubset, f.BaseFont+": "+msg, -1, err)
	}

	program, err := subsetTrueType(sub.Data, ids)
	fileKey, fileType, cidType := "FontFile2", "", "CIDFontType2"
	switch {
	case errors.Is(err, errNotTrueType):
		// CFF outlines are embedded whole.
		program, fileKey, fileType, cidType = sub.Data, "FontFile3", "OpenType", "CIDFontType0"
	case err != nil:
		return fail("cannot subset font program", err)
	}

	name := subsetTag(sub.PostScript, ids) + "+" + sub.PostScript

	fileDict := types.Dict{}
	if fileType != "" {
		fileDict["Subtype"] = types.Name(fileType)
	} else {
		fileDict["Length1"] = types.Integer(len(program))
	}
	fileRef, err := doc.NewStream(fileDict, program)
	if err != nil {
		return fail("cannot add font program", err)
	}

	descriptor := types.Dict{
		"Type":        types.Name("FontDescriptor"),
		"FontName":    types.Name(name),
		"Flags":       types.Integer(4),
		"FontBBox":    types.Array{types.Integer(0), types.Integer(int(math.Round(f.Descent))), types.Integer(1000), types.Integer(int(math.Round(f.Ascent)))},
		"ItalicAngle": types.Integer(0),
		"Ascent":      types.Integer(int(math.Round(f.Ascent))),
		"Descent":     types.Integer(int(math.Round(f.Descent))),
		"CapHeight":   types.Integer(int(math.Round(f.Ascent))),
		"StemV":       types.Integer(80),
		fileKey:       fileRef,
	}
	descRef, err := doc.NewObject(descriptor)
	if err != nil {
		return fail("cannot add font descriptor", err)
	}

	cid := types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name(cidType),
		"BaseFont": types.Name(name),
		"CIDSystemInfo": types.Dict{
			"Registry":   types.StringLiteral("Adobe"),
			"Ordering":   types.StringLiteral("Identity"),
			"Supplement": types.Integer(0),
		},
		"FontDescriptor": descRef,
		"DW":             types.Integer(1000),
		"W":              widthArray(ids, glyphs),
	}
	if cidType == "CIDFontType2" {
		cid["CIDToGIDMap"] = types.Name("Identity")
	}
	cidRef, err := doc.NewObject(cid)
	if err != nil {
		return fail("cannot add descendant font", err)
	}

	cmapRef, err := doc.NewStream(nil, toUnicodeCMap(name, ids, glyphs))
	if err != nil {
		return fail("cannot add ToUnicode map", err)
	}

	ref, err := doc.NewObject(types.Dict{
		"Type":            types.Name("Font"),
		"Subtype":         types.Name("Type0"),
		"BaseFont":        types.Name(name),
		"Encoding":        types.Name("Identity-H"),
		"DescendantFonts": types.Array{cidRef},
		"ToUnicode":       cmapRef,
	})
	if err != nil {
		return fail("cannot add font", err)
	}
	f.Ref = &ref

	logger.Debug("embedded substitute font",
		logger.String("font", name),
		logger.Int("glyphs", len(ids)),
		logger.Int("bytes", len(program)),
		logger.Int("originalBytes", len(sub.Data)))
	return nil
}

// subsetTag derives the six-letter subset prefix from the glyph set.
func subsetTag(name string, ids []uint16) string {
	h := blake3.New()
	h.Write([]byte(name))
	for _, id := range ids {
		h.Write([]byte{byte(id >> 8), byte(id)})
	}
	sum := h.Sum(nil)
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + sum[i]%26
	}
	return string(tag)
}

// widthArray builds /W with one "first [w ...]" entry per run of consecutive IDs.
func widthArray(ids []uint16, glyphs map[uint16]document.SubstituteGlyph) types.Array {
	var out types.Array
	for i := 0; i < len(ids); {
		j := i + 1
		for j < len(ids) && ids[j] == ids[j-1]+1 {
			j++
		}
		var ws types.Array
		for _, id := range ids[i:j] {
			ws = append(ws, types.Integer(int(math.Round(glyphs[id].Width))))
		}
		out = append(out, types.Integer(int(ids[i])), ws)
		i = j
	}
	return out
}

// toUnicodeCMap maps glyph IDs back to the text they render.
func toUnicodeCMap(name string, ids []uint16, glyphs map[uint16]document.SubstituteGlyph) []byte {
	var mapped []uint16
	for _, id := range ids {
		if glyphs[id].Text != "" {
			mapped = append(mapped, id)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n")
	buf.WriteString("12 dict begin\n")
	buf.WriteString("begincmap\n")
	buf.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	fmt.Fprintf(&buf, "/CMapName /%s-UTF16 def\n", strings.ReplaceAll(name, " ", ""))
	buf.WriteString("/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for i := 0; i < len(mapped); i += 100 {
		chunk := mapped[i:min(i+100, len(mapped))]
		fmt.Fprintf(&buf, "%d beginbfchar\n", len(chunk))
		for _, id := range chunk {
			fmt.Fprintf(&buf, "<%04X> <%s>\n", id, utf16Hex(glyphs[id].Text))
		}
		buf.WriteString("endbfchar\n")
	}
	buf.WriteString("endcmap\n")
	buf.WriteString("CMapName currentdict /CMap defineresource pop\n")
	buf.WriteString("end\nend\n")
	return buf.Bytes()
}

func utf16Hex(s string) string {
	var b strings.Builder
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, "%04X", u)
	}
	return b.String()
}
