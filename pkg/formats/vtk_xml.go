package formats

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/klauspost/compress/zlib"
	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

const zlibBlockSize = 1 << 15

var xmlTypes = map[string]elemType{
	"Int8":    elemI8,
	"UInt8":   elemU8,
	"Int16":   elemI16,
	"UInt16":  elemU16,
	"Int32":   elemI32,
	"UInt32":  elemU32,
	"Int64":   elemI64,
	"UInt64":  elemU64,
	"Float32": elemF32,
	"Float64": elemF64,
}

func xmlTypeName(e elemType) string {
	for name, t := range xmlTypes {
		if t == e {
			return name
		}
	}
	return "Float64"
}

// xmlPiece is one piece of a VTK XML dataset.
type xmlPiece struct {
	extent  [6]int
	coords  [3][]float64
	points  []r3.Vec
	cells   []grid.Cell
	scalars []float64
	name    string
	dtype   ndarray.DType
}

// xmlDataset is a decoded serial or parallel VTK XML file.
type xmlDataset struct {
	kind    grid.Kind
	whole   [6]int
	origin  [3]float64
	spacing [3]float64
	pieces  []xmlPiece
}

// xmlDecoder carries the file-level encoding settings.
type xmlDecoder struct {
	order      binary.ByteOrder
	header     elemType
	compressed bool
	appended   string
	raw        bool
}

func parseExtent(s string) ([6]int, error) {
	var ext [6]int
	f := strings.Fields(s)
	if len(f) != 6 {
		return ext, fmt.Errorf("bad extent %q", s)
	}
	for i, v := range f {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ext, fmt.Errorf("bad extent %q", s)
		}
		ext[i] = n
	}
	return ext, nil
}

func parseTriple(s string, def float64) ([3]float64, error) {
	out := [3]float64{def, def, def}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	f := strings.Fields(s)
	if len(f) != 3 {
		return out, fmt.Errorf("bad triple %q", s)
	}
	for i, v := range f {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return out, fmt.Errorf("bad triple %q", s)
		}
		out[i] = x
	}
	return out, nil
}

func extentDims(e [6]int) [3]int {
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// xmlKinds maps VTK XML dataset type names to grid kinds. Parallel files use
// the same names with a "P" prefix.
var xmlKinds = map[string]grid.Kind{
	"ImageData":        grid.ImageData,
	"RectilinearGrid":  grid.RectilinearGrid,
	"PolyData":         grid.PolyData,
	"UnstructuredGrid": grid.UnstructuredGrid,
}

// xmlKind resolves a VTKFile type attribute.
func xmlKind(typ string) (kind grid.Kind, parallel, ok bool) {
	if kind, ok = xmlKinds[typ]; ok {
		return kind, false, true
	}
	if name, found := strings.CutPrefix(typ, "P"); found {
		if kind, ok = xmlKinds[name]; ok {
			return kind, true, true
		}
	}
	return 0, false, false
}

// readVTKXML decodes a serial or parallel VTK XML file. Pieces of parallel
// files are read from their Source paths relative to the file.
func readVTKXML(path string) (*xmlDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	root := xmlquery.FindOne(doc, "//VTKFile")
	if root == nil {
		return nil, fmt.Errorf("no VTKFile element")
	}
	typ := root.SelectAttr("type")

	dec := &xmlDecoder{order: binary.LittleEndian, header: elemU32}
	if root.SelectAttr("byte_order") == "BigEndian" {
		dec.order = binary.BigEndian
	}
	if root.SelectAttr("header_type") == "UInt64" {
		dec.header = elemU64
	}
	switch c := root.SelectAttr("compressor"); c {
	case "":
	case "vtkZLibDataCompressor":
		dec.compressed = true
	default:
		return nil, fmt.Errorf("unsupported compressor %q", c)
	}
	if app := root.SelectElement("AppendedData"); app != nil {
		if app.SelectAttr("encoding") == "raw" {
			dec.raw = true
		} else {
			text := app.InnerText()
			i := strings.IndexByte(text, '_')
			if i < 0 {
				return nil, fmt.Errorf("appended data lacks the '_' marker")
			}
			dec.appended = strings.TrimSpace(text[i+1:])
		}
	}

	out := &xmlDataset{spacing: [3]float64{1, 1, 1}}
	kind, parallel, ok := xmlKind(typ)
	if !ok {
		return nil, fmt.Errorf("unsupported dataset type %q", typ)
	}
	out.kind = kind
	ds := root.SelectElement(typ)
	if ds == nil {
		return nil, fmt.Errorf("missing %s element", typ)
	}
	if !out.kind.IsMesh() {
		if out.whole, err = parseExtent(ds.SelectAttr("WholeExtent")); err != nil {
			return nil, err
		}
	}
	if out.kind == grid.ImageData {
		if out.origin, err = parseTriple(ds.SelectAttr("Origin"), 0); err != nil {
			return nil, err
		}
		if out.spacing, err = parseTriple(ds.SelectAttr("Spacing"), 1); err != nil {
			return nil, err
		}
	}

	for _, pn := range ds.SelectElements("Piece") {
		if parallel {
			src := pn.SelectAttr("Source")
			if src == "" {
				return nil, fmt.Errorf("parallel piece without Source")
			}
			if !filepath.IsAbs(src) {
				src = filepath.Join(filepath.Dir(path), src)
			}
			sub, err := readVTKXML(src)
			if err != nil {
				return nil, fmt.Errorf("piece %s: %w", src, err)
			}
			out.pieces = append(out.pieces, sub.pieces...)
			continue
		}
		p, err := dec.piece(pn, out.kind)
		if err != nil {
			return nil, err
		}
		out.pieces = append(out.pieces, p)
	}
	if len(out.pieces) == 0 {
		return nil, fmt.Errorf("no pieces")
	}
	return out, nil
}

func (d *xmlDecoder) piece(pn *xmlquery.Node, kind grid.Kind) (xmlPiece, error) {
	var p xmlPiece
	var err error
	if !kind.IsMesh() {
		if p.extent, err = parseExtent(pn.SelectAttr("Extent")); err != nil {
			return p, err
		}
	}
	switch kind {
	case grid.RectilinearGrid:
		co := pn.SelectElement("Coordinates")
		if co == nil {
			return p, fmt.Errorf("rectilinear piece without Coordinates")
		}
		arrays := co.SelectElements("DataArray")
		if len(arrays) != 3 {
			return p, fmt.Errorf("expected 3 coordinate arrays, got %d", len(arrays))
		}
		for i, a := range arrays {
			if p.coords[i], _, _, err = d.array(a); err != nil {
				return p, fmt.Errorf("coordinates: %w", err)
			}
		}
	case grid.PolyData, grid.UnstructuredGrid:
		if p.points, err = d.points(pn); err != nil {
			return p, err
		}
		if p.cells, err = d.cells(pn, kind); err != nil {
			return p, err
		}
	}
	if pd := pn.SelectElement("PointData"); pd != nil {
		if err := d.pointScalars(pd, &p); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (d *xmlDecoder) points(pn *xmlquery.Node) ([]r3.Vec, error) {
	pts := pn.SelectElement("Points")
	if pts == nil {
		return nil, nil
	}
	a := pts.SelectElement("DataArray")
	if a == nil {
		return nil, fmt.Errorf("Points without DataArray")
	}
	xyz, _, _, err := d.array(a)
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	if len(xyz)%3 != 0 {
		return nil, fmt.Errorf("points array holds %d values", len(xyz))
	}
	out := make([]r3.Vec, len(xyz)/3)
	for i := range out {
		out[i] = r3.Vec{X: xyz[3*i], Y: xyz[3*i+1], Z: xyz[3*i+2]}
	}
	return out, nil
}

func namedArray(parent *xmlquery.Node, name string) *xmlquery.Node {
	for _, a := range parent.SelectElements("DataArray") {
		if a.SelectAttr("Name") == name {
			return a
		}
	}
	return nil
}

func (d *xmlDecoder) ints(parent *xmlquery.Node, name string) ([]int, error) {
	a := namedArray(parent, name)
	if a == nil {
		return nil, fmt.Errorf("missing %s array", name)
	}
	vals, _, _, err := d.array(a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out, nil
}

func (d *xmlDecoder) cells(pn *xmlquery.Node, kind grid.Kind) ([]grid.Cell, error) {
	type section struct {
		element string
		keyword string
	}
	sections := []section{{"Cells", ""}}
	if kind == grid.PolyData {
		sections = []section{{"Verts", "VERTICES"}, {"Lines", "LINES"}, {"Strips", "TRIANGLE_STRIPS"}, {"Polys", "POLYGONS"}}
	}
	var cells []grid.Cell
	for _, sec := range sections {
		el := pn.SelectElement(sec.element)
		if el == nil {
			continue
		}
		conn, err := d.ints(el, "connectivity")
		if err != nil {
			return nil, err
		}
		offsets, err := d.ints(el, "offsets")
		if err != nil {
			return nil, err
		}
		var types []int
		if kind == grid.UnstructuredGrid {
			if types, err = d.ints(el, "types"); err != nil {
				return nil, err
			}
			if len(types) != len(offsets) {
				return nil, fmt.Errorf("%d cell types for %d cells", len(types), len(offsets))
			}
		}
		start := 0
		for i, end := range offsets {
			if end < start || end > len(conn) {
				return nil, fmt.Errorf("cell %d offsets out of range", i)
			}
			ids := append([]int(nil), conn[start:end]...)
			var ct grid.CellType
			if types != nil {
				ct = grid.CellType(types[i])
			} else {
				ct = legacyCellType(sec.keyword, len(ids))
			}
			cells = append(cells, grid.Cell{Type: ct, Points: ids})
			start = end
		}
	}
	return cells, nil
}

// pointScalars picks the active scalar array, or the first array, of a
// PointData element.
func (d *xmlDecoder) pointScalars(pd *xmlquery.Node, p *xmlPiece) error {
	var a *xmlquery.Node
	if name := pd.SelectAttr("Scalars"); name != "" {
		a = namedArray(pd, name)
	}
	if a == nil {
		a = pd.SelectElement("DataArray")
	}
	if a == nil {
		return nil
	}
	vals, comps, e, err := d.array(a)
	if err != nil {
		return fmt.Errorf("point data %q: %w", a.SelectAttr("Name"), err)
	}
	if comps > 1 {
		first := make([]float64, len(vals)/comps)
		for i := range first {
			first[i] = vals[i*comps]
		}
		vals = first
	}
	p.scalars, p.name, p.dtype = vals, a.SelectAttr("Name"), e.dtype()
	return nil
}

// array decodes a DataArray element in ascii, binary or appended format.
func (d *xmlDecoder) array(a *xmlquery.Node) (vals []float64, comps int, e elemType, err error) {
	typ := a.SelectAttr("type")
	e, ok := xmlTypes[typ]
	if !ok {
		return nil, 0, 0, fmt.Errorf("unsupported type %q", typ)
	}
	comps = 1
	if c := a.SelectAttr("NumberOfComponents"); c != "" {
		if comps, err = strconv.Atoi(c); err != nil || comps < 1 {
			return nil, 0, 0, fmt.Errorf("bad NumberOfComponents %q", c)
		}
	}

	var raw []byte
	switch format := a.SelectAttr("format"); format {
	case "ascii":
		fields := strings.Fields(a.InnerText())
		vals = make([]float64, len(fields))
		for i, f := range fields {
			if vals[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, 0, 0, fmt.Errorf("bad value %q", f)
			}
		}
		return vals, comps, e, nil
	case "binary":
		text := strings.Join(strings.Fields(a.InnerText()), "")
		if raw, err = d.binary(text); err != nil {
			return nil, 0, 0, err
		}
	case "appended":
		if d.raw {
			return nil, 0, 0, fmt.Errorf("raw appended data is not supported")
		}
		off, err := strconv.Atoi(a.SelectAttr("offset"))
		if err != nil || off < 0 || off > len(d.appended) {
			return nil, 0, 0, fmt.Errorf("bad appended offset %q", a.SelectAttr("offset"))
		}
		if raw, err = d.binary(d.appended[off:]); err != nil {
			return nil, 0, 0, err
		}
	default:
		return nil, 0, 0, fmt.Errorf("unsupported format %q", format)
	}
	n := len(raw) / e.size()
	vals, err = decodeValues(raw, n, e, d.order)
	return vals, comps, e, err
}

func b64Len(n int) int { return (n + 2) / 3 * 4 }

// binary decodes one base64 block from the start of text. Uncompressed
// blocks are a single stream holding a byte-count header and the data;
// compressed blocks encode the block table and the zlib payload separately.
func (d *xmlDecoder) binary(text string) ([]byte, error) {
	hs := d.header.size()
	readHeader := func(b []byte, i int) int {
		return int(d.header.get(b[i*hs:], d.order))
	}

	if !d.compressed {
		if len(text) < b64Len(hs) {
			return nil, fmt.Errorf("binary block too short")
		}
		head, err := base64.StdEncoding.DecodeString(text[:b64Len(hs)])
		if err != nil {
			return nil, fmt.Errorf("base64 header: %w", err)
		}
		size := readHeader(head, 0)
		total := b64Len(hs + size)
		if size < 0 || total > len(text) {
			return nil, fmt.Errorf("binary block declares %d bytes beyond its data", size)
		}
		all, err := base64.StdEncoding.DecodeString(text[:total])
		if err != nil {
			return nil, fmt.Errorf("base64 data: %w", err)
		}
		return all[hs : hs+size], nil
	}

	if len(text) < b64Len(hs) {
		return nil, fmt.Errorf("compressed block too short")
	}
	first, err := base64.StdEncoding.DecodeString(text[:b64Len(hs)])
	if err != nil {
		return nil, fmt.Errorf("base64 header: %w", err)
	}
	nblocks := readHeader(first, 0)
	if nblocks < 0 || nblocks > len(text) {
		return nil, fmt.Errorf("bad block count %d", nblocks)
	}
	headLen := b64Len(hs * (3 + nblocks))
	if headLen > len(text) {
		return nil, fmt.Errorf("compressed header truncated")
	}
	head, err := base64.StdEncoding.DecodeString(text[:headLen])
	if err != nil {
		return nil, fmt.Errorf("base64 header: %w", err)
	}
	sizes := make([]int, nblocks)
	sum := 0
	for i := range sizes {
		sizes[i] = readHeader(head, 3+i)
		sum += sizes[i]
	}
	body := text[headLen:]
	if b64Len(sum) > len(body) {
		return nil, fmt.Errorf("compressed data truncated")
	}
	payload, err := base64.StdEncoding.DecodeString(body[:b64Len(sum)])
	if err != nil {
		return nil, fmt.Errorf("base64 data: %w", err)
	}
	var out bytes.Buffer
	off := 0
	for i, sz := range sizes {
		zr, err := zlib.NewReader(bytes.NewReader(payload[off : off+sz]))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if _, err := io.Copy(&out, zr); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		zr.Close()
		off += sz
	}
	return out.Bytes(), nil
}

// Grid assembles the pieces into one grid.
func (x *xmlDataset) Grid() (*grid.Grid, error) {
	if x.kind.IsMesh() {
		return mergeMeshes(x.kind, x.pieces), nil
	}
	dims := extentDims(x.whole)
	n := dims[0] * dims[1] * dims[2]
	if n <= 0 {
		return nil, fmt.Errorf("empty whole extent %v", x.whole)
	}
	g := &grid.Grid{
		Kind:       x.kind,
		Dims:       dims,
		Spacing:    x.spacing,
		ScalarName: x.pieces[0].name,
		ScalarType: x.pieces[0].dtype,
		Scalars:    make([]float64, n),
	}
	if g.ScalarName == "" {
		g.ScalarName = grid.DefaultScalarName
	}
	if g.ScalarType == 0 {
		g.ScalarType = ndarray.Float64
	}
	for i := 0; i < 3; i++ {
		g.Origin[i] = x.origin[i] + float64(x.whole[2*i])*x.spacing[i]
	}
	if x.kind == grid.RectilinearGrid {
		g.Spacing = [3]float64{1, 1, 1}
		g.XCoords = make([]float64, dims[0])
		g.YCoords = make([]float64, dims[1])
		g.ZCoords = make([]float64, dims[2])
	}

	for _, p := range x.pieces {
		pd := extentDims(p.extent)
		for i := 0; i < 6; i += 2 {
			if p.extent[i] < x.whole[i] || p.extent[i+1] > x.whole[i+1] {
				return nil, fmt.Errorf("piece extent %v outside whole extent %v", p.extent, x.whole)
			}
		}
		if p.scalars != nil && len(p.scalars) != pd[0]*pd[1]*pd[2] {
			return nil, fmt.Errorf("piece holds %d scalars for extent %v", len(p.scalars), p.extent)
		}
		if x.kind == grid.RectilinearGrid {
			for axis, dst := range [][]float64{g.XCoords, g.YCoords, g.ZCoords} {
				if len(p.coords[axis]) != pd[axis] {
					return nil, fmt.Errorf("piece coordinates do not match extent %v", p.extent)
				}
				copy(dst[p.extent[2*axis]-x.whole[2*axis]:], p.coords[axis])
			}
		}
		if p.scalars == nil {
			continue
		}
		for k := 0; k < pd[2]; k++ {
			for j := 0; j < pd[1]; j++ {
				for i := 0; i < pd[0]; i++ {
					gi := p.extent[0] + i - x.whole[0]
					gj := p.extent[2] + j - x.whole[2]
					gk := p.extent[4] + k - x.whole[4]
					g.Scalars[(gk*dims[1]+gj)*dims[0]+gi] = p.scalars[(k*pd[1]+j)*pd[0]+i]
				}
			}
		}
	}
	return g, g.Validate()
}

func mergeMeshes(kind grid.Kind, pieces []xmlPiece) *grid.Grid {
	var (
		points  []r3.Vec
		cells   []grid.Cell
		scalars []float64
		haveAll = true
	)
	for _, p := range pieces {
		off := len(points)
		points = append(points, p.points...)
		for _, c := range p.cells {
			ids := make([]int, len(c.Points))
			for i, id := range c.Points {
				ids[i] = id + off
			}
			cells = append(cells, grid.Cell{Type: c.Type, Points: ids})
		}
		if len(p.scalars) != len(p.points) {
			haveAll = false
		}
		scalars = append(scalars, p.scalars...)
	}
	if !haveAll {
		return grid.NewMesh(kind, points, cells, nil)
	}
	g := grid.NewMesh(kind, points, cells, scalars)
	if pieces[0].name != "" {
		g.ScalarName = pieces[0].name
	}
	if pieces[0].dtype != 0 {
		g.ScalarType = pieces[0].dtype
	}
	return g
}

// xmlWriter emits VTK XML with inline base64 data arrays.
type xmlWriter struct {
	buf      bytes.Buffer
	compress bool
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func extentString(dims [3]int) string {
	return fmt.Sprintf("0 %d 0 %d 0 %d", dims[0]-1, dims[1]-1, dims[2]-1)
}

func (w *xmlWriter) header(typ string) {
	w.buf.WriteString(`<?xml version="1.0"?>` + "\n")
	fmt.Fprintf(&w.buf, `<VTKFile type="%s" version="1.0" byte_order="LittleEndian" header_type="UInt64"`, typ)
	if w.compress {
		w.buf.WriteString(` compressor="vtkZLibDataCompressor"`)
	}
	w.buf.WriteString(">\n")
}

func (w *xmlWriter) dataArray(name string, vals []float64, e elemType, comps int) error {
	fmt.Fprintf(&w.buf, `<DataArray type="%s"`, xmlTypeName(e))
	if name != "" {
		fmt.Fprintf(&w.buf, ` Name="%s"`, xmlEscape(name))
	}
	if comps > 1 {
		fmt.Fprintf(&w.buf, ` NumberOfComponents="%d"`, comps)
	}
	w.buf.WriteString(` format="binary">` + "\n")
	payload, err := w.encode(encodeValues(vals, e, binary.LittleEndian))
	if err != nil {
		return err
	}
	w.buf.WriteString(payload)
	w.buf.WriteString("\n</DataArray>\n")
	return nil
}

func (w *xmlWriter) encode(data []byte) (string, error) {
	var hdr []byte
	put := func(v int) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		hdr = append(hdr, b[:]...)
	}
	if !w.compress {
		put(len(data))
		return base64.StdEncoding.EncodeToString(append(hdr, data...)), nil
	}

	nblocks := (len(data) + zlibBlockSize - 1) / zlibBlockSize
	var payload bytes.Buffer
	var sizes []int
	for i := 0; i < nblocks; i++ {
		end := min((i+1)*zlibBlockSize, len(data))
		before := payload.Len()
		zw := zlib.NewWriter(&payload)
		if _, err := zw.Write(data[i*zlibBlockSize : end]); err != nil {
			return "", err
		}
		if err := zw.Close(); err != nil {
			return "", err
		}
		sizes = append(sizes, payload.Len()-before)
	}
	last := len(data) % zlibBlockSize
	put(nblocks)
	put(zlibBlockSize)
	put(last)
	for _, s := range sizes {
		put(s)
	}
	return base64.StdEncoding.EncodeToString(hdr) + base64.StdEncoding.EncodeToString(payload.Bytes()), nil
}

func (w *xmlWriter) pointData(g *grid.Grid, values []float64, dtype ndarray.DType) error {
	name := g.ScalarName
	if name == "" {
		name = grid.DefaultScalarName
	}
	fmt.Fprintf(&w.buf, "<PointData Scalars=\"%s\">\n", xmlEscape(name))
	if err := w.dataArray(name, values, elemFor(dtype), 1); err != nil {
		return err
	}
	w.buf.WriteString("</PointData>\n")
	return nil
}

func (w *xmlWriter) pointsElement(pts []r3.Vec) error {
	xyz := make([]float64, 0, 3*len(pts))
	for _, p := range pts {
		xyz = append(xyz, p.X, p.Y, p.Z)
	}
	w.buf.WriteString("<Points>\n")
	if err := w.dataArray("Points", xyz, elemF64, 3); err != nil {
		return err
	}
	w.buf.WriteString("</Points>\n")
	return nil
}

func (w *xmlWriter) cellArrays(cells []grid.Cell, withTypes bool) error {
	var conn, offsets, types []float64
	for _, c := range cells {
		for _, id := range c.Points {
			conn = append(conn, float64(id))
		}
		offsets = append(offsets, float64(len(conn)))
		types = append(types, float64(c.Type))
	}
	if err := w.dataArray("connectivity", conn, elemI64, 1); err != nil {
		return err
	}
	if err := w.dataArray("offsets", offsets, elemI64, 1); err != nil {
		return err
	}
	if withTypes {
		return w.dataArray("types", types, elemU8, 1)
	}
	return nil
}

// encodeVTKXML renders g as a serial VTK XML document of the given type.
func encodeVTKXML(typ string, g *grid.Grid, values []float64, dtype ndarray.DType, compress bool) ([]byte, error) {
	w := &xmlWriter{compress: compress}
	w.header(typ)

	switch typ {
	case "ImageData":
		origin, spacing := uniformGeometry(g)
		ext := extentString(g.Dims)
		fmt.Fprintf(&w.buf, "<ImageData WholeExtent=\"%s\" Origin=\"%s\" Spacing=\"%s\">\n<Piece Extent=\"%s\">\n",
			ext, joinFloats(origin[:]), joinFloats(spacing[:]), ext)
		if err := w.pointData(g, values, dtype); err != nil {
			return nil, err
		}
		w.buf.WriteString("</Piece>\n</ImageData>\n")
	case "RectilinearGrid":
		ext := extentString(g.Dims)
		fmt.Fprintf(&w.buf, "<RectilinearGrid WholeExtent=\"%s\">\n<Piece Extent=\"%s\">\n", ext, ext)
		if err := w.pointData(g, values, dtype); err != nil {
			return nil, err
		}
		w.buf.WriteString("<Coordinates>\n")
		for i, c := range rectilinearCoords(g) {
			if err := w.dataArray(string(rune('x'+i))+"_coordinates", c, elemF64, 1); err != nil {
				return nil, err
			}
		}
		w.buf.WriteString("</Coordinates>\n</Piece>\n</RectilinearGrid>\n")
	case "PolyData":
		secs := polySections(g.Cells)
		fmt.Fprintf(&w.buf, "<PolyData>\n<Piece NumberOfPoints=\"%d\" NumberOfVerts=\"%d\" NumberOfLines=\"%d\" NumberOfStrips=\"%d\" NumberOfPolys=\"%d\">\n",
			len(g.Points), len(secs[0].cells), len(secs[1].cells), len(secs[3].cells), len(secs[2].cells))
		if err := w.pointData(g, values, dtype); err != nil {
			return nil, err
		}
		if err := w.pointsElement(g.Points); err != nil {
			return nil, err
		}
		for _, s := range []struct {
			el    string
			cells []grid.Cell
		}{{"Verts", secs[0].cells}, {"Lines", secs[1].cells}, {"Strips", secs[3].cells}, {"Polys", secs[2].cells}} {
			if len(s.cells) == 0 {
				continue
			}
			fmt.Fprintf(&w.buf, "<%s>\n", s.el)
			if err := w.cellArrays(s.cells, false); err != nil {
				return nil, err
			}
			fmt.Fprintf(&w.buf, "</%s>\n", s.el)
		}
		w.buf.WriteString("</Piece>\n</PolyData>\n")
	case "UnstructuredGrid":
		fmt.Fprintf(&w.buf, "<UnstructuredGrid>\n<Piece NumberOfPoints=\"%d\" NumberOfCells=\"%d\">\n", len(g.Points), len(g.Cells))
		if err := w.pointData(g, values, dtype); err != nil {
			return nil, err
		}
		if err := w.pointsElement(g.Points); err != nil {
			return nil, err
		}
		w.buf.WriteString("<Cells>\n")
		if err := w.cellArrays(g.Cells, true); err != nil {
			return nil, err
		}
		w.buf.WriteString("</Cells>\n</Piece>\n</UnstructuredGrid>\n")
	default:
		return nil, fmt.Errorf("unknown dataset type %q", typ)
	}
	w.buf.WriteString("</VTKFile>\n")
	return w.buf.Bytes(), nil
}

// encodeParallelXML renders the index file of a one-piece parallel dataset.
func encodeParallelXML(typ string, g *grid.Grid, dtype ndarray.DType, source string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	fmt.Fprintf(&b, "<VTKFile type=\"P%s\" version=\"1.0\" byte_order=\"LittleEndian\" header_type=\"UInt64\">\n", typ)
	name := g.ScalarName
	if name == "" {
		name = grid.DefaultScalarName
	}
	ext := extentString(g.Dims)
	switch typ {
	case "ImageData":
		origin, spacing := uniformGeometry(g)
		fmt.Fprintf(&b, "<PImageData WholeExtent=\"%s\" GhostLevel=\"0\" Origin=\"%s\" Spacing=\"%s\">\n",
			ext, joinFloats(origin[:]), joinFloats(spacing[:]))
	case "RectilinearGrid":
		fmt.Fprintf(&b, "<PRectilinearGrid WholeExtent=\"%s\" GhostLevel=\"0\">\n", ext)
	default:
		fmt.Fprintf(&b, "<P%s GhostLevel=\"0\">\n", typ)
	}
	fmt.Fprintf(&b, "<PPointData Scalars=\"%s\">\n<PDataArray type=\"%s\" Name=\"%s\"/>\n</PPointData>\n",
		xmlEscape(name), xmlTypeName(elemFor(dtype)), xmlEscape(name))
	switch typ {
	case "ImageData":
		fmt.Fprintf(&b, "<Piece Extent=\"%s\" Source=\"%s\"/>\n", ext, xmlEscape(source))
	case "RectilinearGrid":
		b.WriteString("<PCoordinates>\n")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&b, "<PDataArray type=\"Float64\" Name=\"%c_coordinates\"/>\n", 'x'+i)
		}
		b.WriteString("</PCoordinates>\n")
		fmt.Fprintf(&b, "<Piece Extent=\"%s\" Source=\"%s\"/>\n", ext, xmlEscape(source))
	default:
		b.WriteString("<PPoints>\n<PDataArray type=\"Float64\" NumberOfComponents=\"3\"/>\n</PPoints>\n")
		fmt.Fprintf(&b, "<Piece Source=\"%s\"/>\n", xmlEscape(source))
	}
	fmt.Fprintf(&b, "</P%s>\n</VTKFile>\n", typ)
	return b.Bytes()
}

// uniformGeometry returns the origin and spacing of image data, deriving an
// average spacing for rectilinear grids.
func uniformGeometry(g *grid.Grid) (origin, spacing [3]float64) {
	if g.Kind == grid.ImageData {
		return g.Origin, g.Spacing
	}
	lo, hi := g.Bounds()
	origin = [3]float64{lo.X, lo.Y, lo.Z}
	ext := [3]float64{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z}
	for i := 0; i < 3; i++ {
		spacing[i] = 1
		if g.Dims[i] > 1 && ext[i] > 0 {
			spacing[i] = ext[i] / float64(g.Dims[i]-1)
		}
	}
	return origin, spacing
}

// rectilinearCoords returns per-axis coordinates, generating them for
// image data.
func rectilinearCoords(g *grid.Grid) [3][]float64 {
	if g.Kind == grid.RectilinearGrid {
		return [3][]float64{g.XCoords, g.YCoords, g.ZCoords}
	}
	var out [3][]float64
	for axis := 0; axis < 3; axis++ {
		out[axis] = make([]float64, g.Dims[axis])
		for i := range out[axis] {
			out[axis][i] = g.Origin[axis] + float64(i)*g.Spacing[axis]
		}
	}
	return out
}
