package document

import (
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Small accessors over the pdfcpu object model. Lookups that fail yield zero values;
// callers treat missing optional entries as absent.

func resolve(ctx *model.Context, o types.Object) types.Object {
	if o == nil {
		return nil
	}
	obj, err := ctx.Dereference(o)
	if err != nil {
		return nil
	}
	return obj
}

func dictOf(ctx *model.Context, o types.Object) types.Dict {
	if o == nil {
		return nil
	}
	d, err := ctx.DereferenceDict(o)
	if err != nil {
		return nil
	}
	return d
}

func arrayOf(ctx *model.Context, o types.Object) types.Array {
	if o == nil {
		return nil
	}
	a, err := ctx.DereferenceArray(o)
	if err != nil {
		return nil
	}
	return a
}

func nameOf(ctx *model.Context, o types.Object) string {
	switch v := resolve(ctx, o).(type) {
	case types.Name:
		return string(v)
	case types.StringLiteral:
		return string(v)
	}
	return ""
}

func numberOf(ctx *model.Context, o types.Object) (float64, bool) {
	switch v := resolve(ctx, o).(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}

// streamData returns the decoded bytes of a stream object.
func streamData(ctx *model.Context, o types.Object) ([]byte, error) {
	sd, _, err := ctx.DereferenceStreamDict(o)
	if err != nil || sd == nil {
		return nil, err
	}
	if sd.Content == nil {
		if err := sd.Decode(); err != nil {
			return nil, err
		}
	}
	return sd.Content, nil
}

// rectOf reads a [llx lly urx ury] array.
func rectOf(ctx *model.Context, o types.Object) (Rect, bool) {
	a := arrayOf(ctx, o)
	if len(a) != 4 {
		return Rect{}, false
	}
	var v [4]float64
	for i := range v {
		n, ok := numberOf(ctx, a[i])
		if !ok {
			return Rect{}, false
		}
		v[i] = n
	}
	return NewRect(v[0], v[1], v[2], v[3]), true
}

func matrixOf(ctx *model.Context, o types.Object) (Matrix, bool) {
	a := arrayOf(ctx, o)
	if len(a) != 6 {
		return Identity, false
	}
	var m Matrix
	for i := range m {
		n, ok := numberOf(ctx, a[i])
		if !ok {
			return Identity, false
		}
		m[i] = n
	}
	return m, true
}

// inherited looks up a page attribute, walking the /Parent chain.
func inherited(ctx *model.Context, page types.Dict, key string) types.Object {
	d := page
	for depth := 0; d != nil && depth < 64; depth++ {
		if v, ok := d[key]; ok {
			return v
		}
		d = dictOf(ctx, d["Parent"])
	}
	return nil
}

// cloneDict copies the top level of d.
func cloneDict(d types.Dict) types.Dict {
	out := types.NewDict()
	for k, v := range d {
		out[k] = v
	}
	return out
}

// refKey identifies an indirect object, or -1 for direct objects.
func refKey(o types.Object) int {
	switch v := o.(type) {
	case types.IndirectRef:
		return v.ObjectNumber.Value()
	case *types.IndirectRef:
		return v.ObjectNumber.Value()
	}
	return -1
}
