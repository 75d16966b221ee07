// Package document loads a PDF into pages of content operations and glyph
// runs, tracks which runs are being replaced, and writes the result back.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"pdf-translator/internal/logger"
)

// Document is a parsed PDF. Pages share the underlying object table.
type Document struct {
	Pages []*Page

	ctx    *model.Context
	source []byte
	// truncated is set when the file lacks its %%EOF marker.
	truncated bool

	mu    sync.Mutex
	fonts map[int]*FontResource
	added []types.IndirectRef
}

// Page is one page of a Document.
type Page struct {
	// Index is zero-based.
	Index    int
	MediaBox Rect
	CropBox  Rect
	Rotate   int
	// Skipped pages were not selected for translation and carry no operations.
	Skipped bool

	Ops    []Op
	Runs   []*GlyphRun
	Images []Rect
	Forms  []Rect
	Paths  []Rect
	// Fonts maps resource names to fonts used on the page.
	Fonts map[string]*FontResource

	dict      types.Dict
	resources types.Dict
	fontDict  types.Dict

	mu       sync.Mutex
	claims   map[int]string
	content  []byte
	fontAdds map[string]types.IndirectRef
	modified bool
}

// ParseOption customizes Parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	pageFilter func(index int) bool
}

// WithPageFilter restricts interpretation to pages for which keep returns true.
// Other pages are loaded as Skipped and written back untouched.
func WithPageFilter(keep func(index int) bool) ParseOption {
	return func(o *parseOptions) { o.pageFilter = keep }
}

var (
	configOnce  sync.Once
	encryptRef  = regexp.MustCompile(`/Encrypt\s*(\d+\s+\d+\s+R|<<)`)
	headerMagic = []byte("%PDF-")
)

func newConfiguration() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Parse loads a PDF. Errors are always *ParseError.
func Parse(data []byte, opts ...ParseOption) (*Document, error) {
	o := parseOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, headerMagic) {
		return nil, newParseError(MalformedStructure, "missing %PDF- header", nil)
	}
	if encryptRef.Match(data) {
		return nil, newParseError(UnsupportedEncryption, "document is encrypted", nil)
	}
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	truncated := !bytes.Contains(tail, []byte("%%EOF"))

	ctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		if truncated || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, newParseError(TruncatedStream, "cannot read document", err)
		}
		return nil, newParseError(MalformedStructure, "cannot read document", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		logger.Warn("document failed validation, continuing", logger.Err(err))
	}
	if err := ctx.EnsurePageCount(); err != nil {
		if truncated {
			return nil, newParseError(TruncatedStream, "cannot count pages", err)
		}
		return nil, newParseError(MalformedStructure, "cannot count pages", err)
	}

	doc := &Document{
		ctx:       ctx,
		source:    data,
		truncated: truncated,
		fonts:     make(map[int]*FontResource),
	}

	for i := 1; i <= ctx.PageCount; i++ {
		page, err := doc.loadPage(i-1, o.pageFilter)
		if err != nil {
			var pe *ParseError
			if truncated && errors.As(err, &pe) {
				pe.Kind = TruncatedStream
			}
			return nil, err
		}
		doc.Pages = append(doc.Pages, page)
	}

	logger.Debug("document parsed",
		logger.Int("pages", len(doc.Pages)),
		logger.Int("fonts", len(doc.fonts)),
		logger.Bool("truncatedTrailer", truncated))
	return doc, nil
}

func (d *Document) loadPage(index int, keep func(int) bool) (*Page, error) {
	dict, _, _, err := d.ctx.PageDict(index+1, false)
	if err != nil || dict == nil {
		return nil, &ParseError{Kind: MalformedStructure, Message: "cannot resolve page", Page: index, Cause: err}
	}

	p := &Page{
		Index:  index,
		dict:   dict,
		Fonts:  make(map[string]*FontResource),
		claims: make(map[int]string),
	}
	p.resources = dictOf(d.ctx, inherited(d.ctx, dict, "Resources"))
	if p.resources == nil {
		p.resources = types.NewDict()
	}
	p.fontDict = dictOf(d.ctx, p.resources["Font"])

	mb, ok := rectOf(d.ctx, inherited(d.ctx, dict, "MediaBox"))
	if !ok {
		// US Letter is the conventional default
		mb = Rect{0, 0, 612, 792}
	}
	p.MediaBox = mb
	p.CropBox = mb
	if cb, ok := rectOf(d.ctx, inherited(d.ctx, dict, "CropBox")); ok {
		p.CropBox = cb.Clip(mb)
	}
	if r, ok := numberOf(d.ctx, inherited(d.ctx, dict, "Rotate")); ok {
		p.Rotate = ((int(r) % 360) + 360) % 360
	}

	if keep != nil && !keep(index) {
		p.Skipped = true
		return p, nil
	}

	if d.truncated {
		if err := d.checkComplete(dict, p.resources); err != nil {
			return nil, &ParseError{Kind: TruncatedStream, Message: "page refers to data past the end of the file", Page: index, Cause: err}
		}
	}
	data, err := d.pageContent(dict)
	if err != nil {
		return nil, &ParseError{Kind: MalformedStructure, Message: "cannot decode content stream", Page: index, Cause: err}
	}
	ops, err := Lex(data)
	if err != nil {
		return nil, &ParseError{Kind: TruncatedStream, Message: "content stream ends inside a token", Page: index, Cause: err}
	}
	p.Ops = ops

	newInterpreter(d, p).run()
	return p, nil
}

// pageContent concatenates the decoded content streams of a page.
// errMissingObject is returned for references to objects a truncated file
// does not contain.
var errMissingObject = errors.New("referenced object is missing")

// checkComplete verifies that the content streams and fonts of a page in a
// truncated file can be resolved. A page without content counts as cut off.
func (d *Document) checkComplete(dict, resources types.Dict) error {
	contents := dict["Contents"]
	if resolve(d.ctx, contents) == nil {
		return fmt.Errorf("contents: %w", errMissingObject)
	}
	parts := arrayOf(d.ctx, contents)
	if parts == nil {
		parts = types.Array{contents}
	}
	for _, part := range parts {
		if resolve(d.ctx, part) == nil {
			return fmt.Errorf("contents: %w", errMissingObject)
		}
		if _, err := streamData(d.ctx, part); err != nil {
			return fmt.Errorf("contents: %w", err)
		}
	}
	fonts := dictOf(d.ctx, resources["Font"])
	if resources["Font"] != nil && fonts == nil {
		return fmt.Errorf("fonts: %w", errMissingObject)
	}
	for name, f := range fonts {
		if dictOf(d.ctx, f) == nil {
			return fmt.Errorf("font %s: %w", name, errMissingObject)
		}
	}
	return nil
}

func (d *Document) pageContent(dict types.Dict) ([]byte, error) {
	contents := dict["Contents"]
	if contents == nil {
		return nil, nil
	}
	var parts []types.Object
	if arr := arrayOf(d.ctx, contents); arr != nil {
		parts = arr
	} else {
		parts = []types.Object{contents}
	}

	var buf bytes.Buffer
	for _, part := range parts {
		data, err := streamData(d.ctx, part)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// font resolves a font resource name on the page, loading it once per document.
func (p *Page) font(d *Document, name string) *FontResource {
	if f, ok := p.Fonts[name]; ok {
		return f
	}
	obj := p.fontDict[name]

	key := refKey(obj)
	d.mu.Lock()
	f, ok := d.fonts[key]
	d.mu.Unlock()
	if !ok || key < 0 {
		f = loadFont(d.ctx, name, obj)
		if key >= 0 {
			d.mu.Lock()
			d.fonts[key] = f
			d.mu.Unlock()
		}
	}
	p.Fonts[name] = f
	return f
}

// Claim moves run into the unit identified by unitID. A run can be claimed once.
func (p *Page) Claim(run *GlyphRun, unitID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner, ok := p.claims[run.Index]; ok {
		return fmt.Errorf("%w: run %d on page %d owned by %s", ErrAlreadyClaimed, run.Index, p.Index, owner)
	}
	p.claims[run.Index] = unitID
	return nil
}

// Release returns a claimed run to the untouched content.
func (p *Page) Release(run *GlyphRun) {
	p.mu.Lock()
	delete(p.claims, run.Index)
	p.mu.Unlock()
}

// Owner returns the unit that claimed run.
func (p *Page) Owner(run *GlyphRun) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.claims[run.Index]
	return id, ok
}

// ClaimedCount returns how many runs have been claimed.
func (p *Page) ClaimedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.claims)
}

// SetContent replaces the page's content with a single new stream at serialization.
func (p *Page) SetContent(content []byte) {
	p.mu.Lock()
	p.content = content
	p.modified = true
	p.mu.Unlock()
}

// Modified reports whether the page will be rewritten.
func (p *Page) Modified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modified
}

// FontResourceName returns a resource name not yet used on the page.
func (p *Page) FontResourceName(prefix string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing := map[string]bool{}
	for k := range p.fontDict {
		existing[k] = true
	}
	for k := range p.fontAdds {
		existing[k] = true
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		if !existing[name] {
			return name
		}
	}
}

// AddFont registers an indirect font object under name in the page resources.
func (p *Page) AddFont(name string, ref types.IndirectRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fontAdds == nil {
		p.fontAdds = make(map[string]types.IndirectRef)
	}
	p.fontAdds[name] = ref
	p.modified = true
}

// ReplaceContent sets the operations written for the page at index.
func (d *Document) ReplaceContent(index int, ops []Op) error {
	if index < 0 || index >= len(d.Pages) {
		return fmt.Errorf("page %d out of range", index)
	}
	d.Pages[index].SetContent(WriteOps(ops))
	return nil
}

// AddFont makes an embedded font available on the page at index and returns
// its resource name. Adding the same font twice returns the same name.
func (d *Document) AddFont(index int, f *FontResource) (string, error) {
	if index < 0 || index >= len(d.Pages) {
		return "", fmt.Errorf("page %d out of range", index)
	}
	if f.Ref == nil {
		return "", NewSerializeError(InvalidFontSubset, "font "+f.BaseFont+" has no font object", index, nil)
	}
	p := d.Pages[index]

	p.mu.Lock()
	for name, ref := range p.fontAdds {
		if ref.ObjectNumber == f.Ref.ObjectNumber {
			p.mu.Unlock()
			return name, nil
		}
	}
	for name, o := range p.fontDict {
		if ref, ok := o.(types.IndirectRef); ok && ref.ObjectNumber == f.Ref.ObjectNumber {
			p.mu.Unlock()
			return name, nil
		}
	}
	p.mu.Unlock()

	name := p.FontResourceName("FT")
	p.AddFont(name, *f.Ref)
	p.Fonts[name] = f
	return name, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Source returns the bytes the document was parsed from.
func (d *Document) Source() []byte { return d.source }

// NewObject adds obj to the object table.
func (d *Document) NewObject(obj types.Object) (types.IndirectRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, err := d.ctx.IndRefForNewObject(obj)
	if err != nil {
		return types.IndirectRef{}, err
	}
	d.added = append(d.added, *ref)
	return *ref, nil
}

// NewStream adds a Flate-compressed stream object with the given dictionary entries.
func (d *Document) NewStream(dict types.Dict, content []byte) (types.IndirectRef, error) {
	sd := types.StreamDict{
		Dict:           types.NewDict(),
		Content:        content,
		FilterPipeline: []types.PDFFilter{{Name: filter.Flate}},
	}
	for k, v := range dict {
		sd.Dict[k] = v
	}
	sd.Dict["Filter"] = types.Name(filter.Flate)
	if err := sd.Encode(); err != nil {
		return types.IndirectRef{}, fmt.Errorf("encode stream: %w", err)
	}
	return d.NewObject(sd)
}

// Serialize writes modified pages into the object table and returns the
// complete file. Unmodified pages keep their original content objects.
func (d *Document) Serialize() ([]byte, error) {
	for _, p := range d.Pages {
		if !p.Modified() {
			continue
		}
		if err := d.commitPage(p); err != nil {
			return nil, err
		}
	}

	if err := d.checkReferences(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	d.ctx.ResetWriteContext()
	if err := api.WriteContext(d.ctx, &buf); err != nil {
		return nil, NewSerializeError(DanglingReference, "write failed", -1, err)
	}
	return buf.Bytes(), nil
}

func (d *Document) commitPage(p *Page) error {
	p.mu.Lock()
	content, adds := p.content, p.fontAdds
	p.mu.Unlock()

	if content != nil {
		ref, err := d.NewStream(nil, content)
		if err != nil {
			return NewSerializeError(DanglingReference, "cannot add content stream", p.Index, err)
		}
		p.dict["Contents"] = ref
	}

	if len(adds) > 0 {
		res := cloneDict(p.resources)
		fonts := cloneDict(dictOf(d.ctx, res["Font"]))
		names := make([]string, 0, len(adds))
		for name := range adds {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fonts[name] = adds[name]
		}
		res["Font"] = fonts
		p.dict["Resources"] = res
		p.mu.Lock()
		p.resources = res
		p.fontDict = fonts
		p.mu.Unlock()
	}

	// committed state is written once; a later Serialize reuses it
	p.mu.Lock()
	p.content = nil
	p.fontAdds = nil
	p.mu.Unlock()
	return nil
}

// checkReferences verifies that every reference reachable from rewritten pages
// and added objects resolves to a live object.
func (d *Document) checkReferences() error {
	seen := make(map[int]bool)
	var walk func(o types.Object, page int) error
	walk = func(o types.Object, page int) error {
		switch v := o.(type) {
		case types.IndirectRef:
			n := v.ObjectNumber.Value()
			entry, ok := d.ctx.Table[n]
			if !ok || entry == nil || entry.Free {
				return NewSerializeError(DanglingReference, fmt.Sprintf("object %d R does not exist", n), page, nil)
			}
			if seen[n] {
				return nil
			}
			seen[n] = true
			return walk(entry.Object, page)
		case types.Dict:
			for k, item := range v {
				if k == "Parent" {
					continue
				}
				if err := walk(item, page); err != nil {
					return err
				}
			}
		case types.StreamDict:
			return walk(v.Dict, page)
		case *types.StreamDict:
			return walk(v.Dict, page)
		case types.Array:
			for _, item := range v {
				if err := walk(item, page); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, p := range d.Pages {
		if !p.Modified() {
			continue
		}
		if err := walk(p.dict, p.Index); err != nil {
			return err
		}
	}
	for _, ref := range d.added {
		if err := walk(ref, -1); err != nil {
			return err
		}
	}
	return nil
}

// Text returns the decoded text of all runs on the page, in paint order.
func (p *Page) Text() string {
	var sb strings.Builder
	for i, r := range p.Runs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.Text)
	}
	return sb.String()
}
