package rebuild

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

// errNotTrueType is returned for fonts without glyf outlines (CFF flavoured OpenType).
var errNotTrueType = errors.New("font has no glyf table")

// subsetTables are copied into a subset; everything else is dropped.
var subsetTables = []string{"head", "hhea", "maxp", "OS/2", "hmtx", "cmap", "fpgm", "prep", "cvt ", "loca", "glyf", "name", "post"}

type sfntFile struct {
	data   []byte
	tables map[string][]byte
}

func parseSFNT(data []byte) (*sfntFile, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("font header truncated")
	}
	n := int(binary.BigEndian.Uint16(data[4:6]))
	f := &sfntFile{data: data, tables: make(map[string][]byte, n)}
	for i := 0; i < n; i++ {
		rec := 12 + 16*i
		if rec+16 > len(data) {
			return nil, fmt.Errorf("table directory truncated")
		}
		tag := string(data[rec : rec+4])
		off := binary.BigEndian.Uint32(data[rec+8:])
		length := binary.BigEndian.Uint32(data[rec+12:])
		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("table %q out of bounds", tag)
		}
		f.tables[tag] = data[off : off+length]
	}
	return f, nil
}

// subsetTrueType keeps the outlines of the used glyphs and the composite
// glyphs they reference. Glyph IDs are unchanged so the font still works
// with an identity CID to GID mapping; unused glyphs become empty and the
// glyph list is cut after the highest used ID.
func subsetTrueType(data []byte, used []uint16) ([]byte, error) {
	f, err := parseSFNT(data)
	if err != nil {
		return nil, err
	}
	for _, tag := range []string{"head", "hhea", "maxp", "hmtx", "loca"} {
		if f.tables[tag] == nil {
			if tag == "loca" && f.tables["CFF "] != nil {
				return nil, errNotTrueType
			}
			return nil, fmt.Errorf("missing %q table", tag)
		}
	}
	if f.tables["glyf"] == nil {
		return nil, errNotTrueType
	}

	head, maxp := f.tables["head"], f.tables["maxp"]
	if len(head) < 54 || len(maxp) < 6 || len(f.tables["hhea"]) < 36 {
		return nil, fmt.Errorf("font header tables truncated")
	}
	longLoca := binary.BigEndian.Uint16(head[50:52]) == 1
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	offsets, err := readLoca(f.tables["loca"], numGlyphs, longLoca)
	if err != nil {
		return nil, err
	}
	glyf := f.tables["glyf"]

	keep := map[int]bool{0: true}
	queue := []int{0}
	for _, gid := range used {
		if int(gid) < numGlyphs && !keep[int(gid)] {
			keep[int(gid)] = true
			queue = append(queue, int(gid))
		}
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		for _, c := range components(glyf, offsets[gid], offsets[gid+1]) {
			if c < numGlyphs && !keep[c] {
				keep[c] = true
				queue = append(queue, c)
			}
		}
	}

	last := 0
	for gid := range keep {
		if gid > last {
			last = gid
		}
	}
	count := last + 1

	var newGlyf bytes.Buffer
	newLoca := make([]byte, 4*(count+1))
	for gid := 0; gid < count; gid++ {
		binary.BigEndian.PutUint32(newLoca[4*gid:], uint32(newGlyf.Len()))
		start, end := offsets[gid], offsets[gid+1]
		if keep[gid] && start < end && end <= uint32(len(glyf)) {
			newGlyf.Write(glyf[start:end])
			// glyph offsets stay 4-byte aligned
			for newGlyf.Len()%4 != 0 {
				newGlyf.WriteByte(0)
			}
		}
	}
	binary.BigEndian.PutUint32(newLoca[4*count:], uint32(newGlyf.Len()))

	hmtx, numMetrics, err := cutHmtx(f.tables["hmtx"], f.tables["hhea"], count)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)
	for _, tag := range subsetTables {
		if t := f.tables[tag]; t != nil {
			out[tag] = append([]byte(nil), t...)
		}
	}
	out["glyf"] = newGlyf.Bytes()
	out["loca"] = newLoca
	out["hmtx"] = hmtx
	binary.BigEndian.PutUint16(out["head"][50:], 1)
	binary.BigEndian.PutUint16(out["maxp"][4:], uint16(count))
	binary.BigEndian.PutUint16(out["hhea"][34:], uint16(numMetrics))
	return writeSFNT(out), nil
}

func readLoca(loca []byte, numGlyphs int, long bool) ([]uint32, error) {
	size := 2
	if long {
		size = 4
	}
	if len(loca) < size*(numGlyphs+1) {
		return nil, fmt.Errorf("loca table truncated")
	}
	offsets := make([]uint32, numGlyphs+1)
	for i := range offsets {
		if long {
			offsets[i] = binary.BigEndian.Uint32(loca[4*i:])
		} else {
			offsets[i] = uint32(binary.BigEndian.Uint16(loca[2*i:])) * 2
		}
	}
	return offsets, nil
}

// Composite glyph flags.
const (
	argsAreWords  = 0x0001
	haveScale     = 0x0008
	moreComponent = 0x0020
	haveXYScale   = 0x0040
	haveTwoByTwo  = 0x0080
)

// components lists the glyphs a composite glyph is built from.
func components(glyf []byte, start, end uint32) []int {
	if end <= start || end > uint32(len(glyf)) || end-start < 10 {
		return nil
	}
	g := glyf[start:end]
	if int16(binary.BigEndian.Uint16(g)) >= 0 {
		return nil
	}
	var out []int
	for off := 10; off+4 <= len(g); {
		flags := binary.BigEndian.Uint16(g[off:])
		out = append(out, int(binary.BigEndian.Uint16(g[off+2:])))
		off += 4
		if flags&argsAreWords != 0 {
			off += 4
		} else {
			off += 2
		}
		switch {
		case flags&haveScale != 0:
			off += 2
		case flags&haveXYScale != 0:
			off += 4
		case flags&haveTwoByTwo != 0:
			off += 8
		}
		if flags&moreComponent == 0 {
			break
		}
	}
	return out
}

// cutHmtx truncates the horizontal metrics to count glyphs.
func cutHmtx(hmtx, hhea []byte, count int) ([]byte, int, error) {
	n := int(binary.BigEndian.Uint16(hhea[34:36]))
	if n == 0 || len(hmtx) < 4*n {
		return nil, 0, fmt.Errorf("hmtx table truncated")
	}
	if count <= n {
		return append([]byte(nil), hmtx[:4*count]...), count, nil
	}
	size := 4*n + 2*(count-n)
	if len(hmtx) < size {
		return nil, 0, fmt.Errorf("hmtx table truncated")
	}
	return append([]byte(nil), hmtx[:size]...), n, nil
}

func writeSFNT(tables map[string][]byte) []byte {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	n := len(tags)
	sel := bits.Len(uint(n)) - 1
	var buf bytes.Buffer
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr, 0x00010000)
	binary.BigEndian.PutUint16(hdr[4:], uint16(n))
	binary.BigEndian.PutUint16(hdr[6:], uint16(16<<sel))
	binary.BigEndian.PutUint16(hdr[8:], uint16(sel))
	binary.BigEndian.PutUint16(hdr[10:], uint16(16*n-16<<sel))
	buf.Write(hdr)

	binary.BigEndian.PutUint32(tables["head"][8:], 0)
	offset := uint32(12 + 16*n)
	var total uint32
	for _, tag := range tags {
		t := tables[tag]
		sum := checksum(t)
		total += sum
		rec := make([]byte, 16)
		copy(rec, tag)
		binary.BigEndian.PutUint32(rec[4:], sum)
		binary.BigEndian.PutUint32(rec[8:], offset)
		binary.BigEndian.PutUint32(rec[12:], uint32(len(t)))
		buf.Write(rec)
		offset += (uint32(len(t)) + 3) &^ 3
	}
	total += checksum(buf.Bytes())
	binary.BigEndian.PutUint32(tables["head"][8:], 0xB1B0AFBA-total)

	for _, tag := range tags {
		t := tables[tag]
		buf.Write(t)
		for i := len(t); i%4 != 0; i++ {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func checksum(b []byte) uint32 {
	var sum uint32
	for i := 0; i < len(b); i += 4 {
		var word [4]byte
		copy(word[:], b[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
