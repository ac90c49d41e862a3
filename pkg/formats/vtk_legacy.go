package formats

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

var legacyTypes = map[string]elemType{
	"bit":                elemU8,
	"unsigned_char":      elemU8,
	"char":               elemI8,
	"signed_char":        elemI8,
	"unsigned_short":     elemU16,
	"short":              elemI16,
	"unsigned_int":       elemU32,
	"int":                elemI32,
	"unsigned_long":      elemU64,
	"long":               elemI64,
	"vtktypeuint64":      elemU64,
	"vtktypeint64":       elemI64,
	"vtkidtype":          elemI64,
	"unsigned_long_long": elemU64,
	"long_long":          elemI64,
	"float":              elemF32,
	"double":             elemF64,
}

func legacyTypeName(e elemType) string {
	switch e {
	case elemU8:
		return "unsigned_char"
	case elemI8:
		return "char"
	case elemU16:
		return "unsigned_short"
	case elemI16:
		return "short"
	case elemU32:
		return "unsigned_int"
	case elemI32:
		return "int"
	case elemU64:
		return "vtktypeuint64"
	case elemI64:
		return "vtktypeint64"
	case elemF32:
		return "float"
	}
	return "double"
}

// legacyReader parses the legacy VTK file format.
type legacyReader struct {
	tr     *tokenReader
	binary bool
}

func (lr *legacyReader) values(n int, typ string) ([]float64, error) {
	e, ok := legacyTypes[strings.ToLower(typ)]
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", typ)
	}
	if !lr.binary {
		return lr.tr.Floats(n)
	}
	raw, err := lr.tr.Bytes(n * e.size())
	if err != nil {
		return nil, err
	}
	return decodeValues(raw, n, e, binary.BigEndian)
}

func (lr *legacyReader) ints(n int) ([]int, error) {
	vals, err := lr.values(n, "int")
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i, v := range vals {
		out[i] = int(v)
	}
	return out, nil
}

// decodeLegacyVTK reads a legacy .vtk file into a grid whose scalars are
// the first point scalar field.
func decodeLegacyVTK(r io.Reader) (*grid.Grid, error) {
	tr := newTokenReader(r)
	version, err := tr.Line()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(version, "# vtk DataFile") {
		return nil, fmt.Errorf("not a legacy VTK file")
	}
	if _, err := tr.Line(); err != nil { // title
		return nil, err
	}
	lr := &legacyReader{tr: tr}
	format, err := tr.Token()
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(format) {
	case "ASCII":
	case "BINARY":
		lr.binary = true
	default:
		return nil, fmt.Errorf("unknown file format %q", format)
	}
	if err := tr.Expect("DATASET"); err != nil {
		return nil, err
	}
	dsType, err := tr.Token()
	if err != nil {
		return nil, err
	}

	g := &grid.Grid{Spacing: [3]float64{1, 1, 1}, Dims: [3]int{1, 1, 1}}
	switch strings.ToUpper(dsType) {
	case "STRUCTURED_POINTS":
		g.Kind = grid.ImageData
	case "RECTILINEAR_GRID":
		g.Kind = grid.RectilinearGrid
	case "POLYDATA":
		g.Kind = grid.PolyData
	case "UNSTRUCTURED_GRID", "STRUCTURED_GRID":
		g.Kind = grid.UnstructuredGrid
	default:
		return nil, fmt.Errorf("unsupported dataset %q", dsType)
	}

	var cellTypes []int
	var cellLists [][]grid.Cell
	for {
		kw, err := tr.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(kw) {
		case "DIMENSIONS":
			for i := 0; i < 3; i++ {
				if g.Dims[i], err = tr.Int(); err != nil {
					return nil, err
				}
			}
		case "ORIGIN":
			o, err := tr.Floats(3)
			if err != nil {
				return nil, err
			}
			copy(g.Origin[:], o)
		case "SPACING", "ASPECT_RATIO":
			s, err := tr.Floats(3)
			if err != nil {
				return nil, err
			}
			copy(g.Spacing[:], s)
		case "X_COORDINATES", "Y_COORDINATES", "Z_COORDINATES":
			n, err := tr.Int()
			if err != nil {
				return nil, err
			}
			typ, err := tr.Token()
			if err != nil {
				return nil, err
			}
			c, err := lr.values(n, typ)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kw, err)
			}
			switch kw[0] {
			case 'X', 'x':
				g.XCoords = c
			case 'Y', 'y':
				g.YCoords = c
			default:
				g.ZCoords = c
			}
		case "POINTS":
			n, err := tr.Int()
			if err != nil {
				return nil, err
			}
			typ, err := tr.Token()
			if err != nil {
				return nil, err
			}
			xyz, err := lr.values(3*n, typ)
			if err != nil {
				return nil, fmt.Errorf("POINTS: %w", err)
			}
			g.Points = make([]r3.Vec, n)
			for i := range g.Points {
				g.Points[i] = r3.Vec{X: xyz[3*i], Y: xyz[3*i+1], Z: xyz[3*i+2]}
			}
		case "VERTICES", "LINES", "POLYGONS", "TRIANGLE_STRIPS", "CELLS":
			cells, err := lr.cellList(strings.ToUpper(kw))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kw, err)
			}
			cellLists = append(cellLists, cells)
		case "CELL_TYPES":
			n, err := tr.Int()
			if err != nil {
				return nil, err
			}
			if cellTypes, err = lr.ints(n); err != nil {
				return nil, fmt.Errorf("CELL_TYPES: %w", err)
			}
		case "POINT_DATA":
			n, err := tr.Int()
			if err != nil {
				return nil, err
			}
			name, typ, vals, err := lr.firstScalars(n)
			if err != nil {
				return nil, fmt.Errorf("POINT_DATA: %w", err)
			}
			if vals != nil {
				g.ScalarName, g.Scalars = name, vals
				g.ScalarType = legacyTypes[strings.ToLower(typ)].dtype()
			}
			return finishLegacy(g, cellLists, cellTypes)
		case "CELL_DATA":
			n, err := tr.Int()
			if err != nil {
				return nil, err
			}
			if err := lr.skipAttributes(n); err != nil {
				return nil, fmt.Errorf("CELL_DATA: %w", err)
			}
		case "METADATA":
			if err := lr.skipMetadata(); err != nil {
				return nil, err
			}
		case "FIELD":
			if err := lr.skipField(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected keyword %q", kw)
		}
	}
	return finishLegacy(g, cellLists, cellTypes)
}

func finishLegacy(g *grid.Grid, lists [][]grid.Cell, types []int) (*grid.Grid, error) {
	for _, l := range lists {
		g.Cells = append(g.Cells, l...)
	}
	if types != nil {
		if len(types) != len(g.Cells) {
			return nil, fmt.Errorf("%d cell types for %d cells", len(types), len(g.Cells))
		}
		for i, t := range types {
			g.Cells[i].Type = grid.CellType(t)
		}
	}
	if g.Kind == grid.RectilinearGrid {
		g.Dims = [3]int{len(g.XCoords), len(g.YCoords), len(g.ZCoords)}
	}
	if g.Kind.IsMesh() {
		g.Dims = [3]int{len(g.Points), 1, 1}
		if g.Scalars == nil {
			*g = *grid.NewMesh(g.Kind, g.Points, g.Cells, nil)
		}
	}
	if g.Scalars == nil {
		g.ScalarName = grid.DefaultScalarName
		g.Scalars = make([]float64, g.NumPoints())
	}
	if g.ScalarType == 0 {
		g.ScalarType = ndarray.Float64
	}
	return g, g.Validate()
}

// cellList reads "n size" followed by size ints in "count id..." groups.
func (lr *legacyReader) cellList(kw string) ([]grid.Cell, error) {
	n, err := lr.tr.Int()
	if err != nil {
		return nil, err
	}
	size, err := lr.tr.Int()
	if err != nil {
		return nil, err
	}
	raw, err := lr.ints(size)
	if err != nil {
		return nil, err
	}
	cells := make([]grid.Cell, 0, n)
	for i := 0; i < len(raw) && len(cells) < n; {
		k := raw[i]
		if k < 0 || i+1+k > len(raw) {
			return nil, fmt.Errorf("cell %d overruns connectivity", len(cells))
		}
		ids := append([]int(nil), raw[i+1:i+1+k]...)
		cells = append(cells, grid.Cell{Type: legacyCellType(kw, k), Points: ids})
		i += 1 + k
	}
	if len(cells) != n {
		return nil, fmt.Errorf("read %d of %d cells", len(cells), n)
	}
	return cells, nil
}

func legacyCellType(kw string, n int) grid.CellType {
	switch kw {
	case "VERTICES":
		if n == 1 {
			return grid.Vertex
		}
		return grid.PolyVertex
	case "LINES":
		if n == 2 {
			return grid.Line
		}
		return grid.PolyLine
	case "TRIANGLE_STRIPS":
		return grid.TriStrip
	case "POLYGONS":
		switch n {
		case 3:
			return grid.Triangle
		case 4:
			return grid.Quad
		}
		return grid.Polygon
	}
	return 0
}

// firstScalars reads point attributes until it finds a scalar field or a
// field array with one tuple per point. Only the first component is kept.
func (lr *legacyReader) firstScalars(n int) (name, typ string, vals []float64, err error) {
	for {
		kw, err := lr.tr.Token()
		if errors.Is(err, io.EOF) {
			return "", "", nil, nil
		}
		if err != nil {
			return "", "", nil, err
		}
		switch strings.ToUpper(kw) {
		case "SCALARS":
			if name, err = lr.tr.Token(); err != nil {
				return "", "", nil, err
			}
			if typ, err = lr.tr.Token(); err != nil {
				return "", "", nil, err
			}
			comps := 1
			// the component count is optional and LOOKUP_TABLE follows
			tok, err := lr.tr.Token()
			if err != nil {
				return "", "", nil, err
			}
			if !strings.EqualFold(tok, "LOOKUP_TABLE") {
				if _, err := fmt.Sscan(tok, &comps); err != nil {
					return "", "", nil, fmt.Errorf("bad component count %q", tok)
				}
				if err := lr.tr.Expect("LOOKUP_TABLE"); err != nil {
					return "", "", nil, err
				}
			}
			if _, err := lr.tr.Token(); err != nil { // table name
				return "", "", nil, err
			}
			all, err := lr.values(n*comps, typ)
			if err != nil {
				return "", "", nil, err
			}
			vals = make([]float64, n)
			for i := range vals {
				vals[i] = all[i*comps]
			}
			return name, typ, vals, nil
		case "FIELD":
			if _, err := lr.tr.Token(); err != nil {
				return "", "", nil, err
			}
			count, err := lr.tr.Int()
			if err != nil {
				return "", "", nil, err
			}
			for a := 0; a < count; a++ {
				arrName, comps, tuples, arrType, err := lr.fieldHeader()
				if err != nil {
					return "", "", nil, err
				}
				all, err := lr.values(comps*tuples, arrType)
				if err != nil {
					return "", "", nil, err
				}
				if vals == nil && tuples == n {
					vals = make([]float64, n)
					for i := range vals {
						vals[i] = all[i*comps]
					}
					name, typ = arrName, arrType
				}
				if err := lr.skipMetadataIfPresent(); err != nil {
					return "", "", nil, err
				}
			}
			if vals != nil {
				return name, typ, vals, nil
			}
		default:
			if err := lr.skipAttribute(kw, n); err != nil {
				return "", "", nil, err
			}
		}
	}
}

func (lr *legacyReader) fieldHeader() (name string, comps, tuples int, typ string, err error) {
	if name, err = lr.tr.Token(); err != nil {
		return
	}
	if comps, err = lr.tr.Int(); err != nil {
		return
	}
	if tuples, err = lr.tr.Int(); err != nil {
		return
	}
	typ, err = lr.tr.Token()
	return
}

// skipAttributes discards a CELL_DATA block, stopping in front of a
// following POINT_DATA keyword.
func (lr *legacyReader) skipAttributes(n int) error {
	for {
		peek, err := lr.tr.r.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if isSpace(peek[0]) {
			lr.tr.r.ReadByte()
			continue
		}
		if next, _ := lr.tr.r.Peek(len("POINT_DATA")); strings.EqualFold(string(next), "POINT_DATA") {
			return nil
		}
		kw, err := lr.tr.Token()
		if err != nil {
			return err
		}
		if strings.EqualFold(kw, "FIELD") {
			if err := lr.skipField(); err != nil {
				return err
			}
			continue
		}
		if err := lr.skipAttribute(kw, n); err != nil {
			return err
		}
	}
}

func (lr *legacyReader) skipAttribute(kw string, n int) error {
	tr := lr.tr
	switch strings.ToUpper(kw) {
	case "SCALARS":
		if _, err := tr.Token(); err != nil {
			return err
		}
		typ, err := tr.Token()
		if err != nil {
			return err
		}
		comps := 1
		tok, err := tr.Token()
		if err != nil {
			return err
		}
		if !strings.EqualFold(tok, "LOOKUP_TABLE") {
			if _, err := fmt.Sscan(tok, &comps); err != nil {
				return fmt.Errorf("bad component count %q", tok)
			}
			if err := tr.Expect("LOOKUP_TABLE"); err != nil {
				return err
			}
		}
		if _, err := tr.Token(); err != nil {
			return err
		}
		_, err = lr.values(n*comps, typ)
		return err
	case "VECTORS", "NORMALS":
		if _, err := tr.Token(); err != nil {
			return err
		}
		typ, err := tr.Token()
		if err != nil {
			return err
		}
		_, err = lr.values(3*n, typ)
		return err
	case "TENSORS":
		if _, err := tr.Token(); err != nil {
			return err
		}
		typ, err := tr.Token()
		if err != nil {
			return err
		}
		_, err = lr.values(9*n, typ)
		return err
	case "TEXTURE_COORDINATES":
		if _, err := tr.Token(); err != nil {
			return err
		}
		dim, err := tr.Int()
		if err != nil {
			return err
		}
		typ, err := tr.Token()
		if err != nil {
			return err
		}
		_, err = lr.values(dim*n, typ)
		return err
	case "COLOR_SCALARS":
		if _, err := tr.Token(); err != nil {
			return err
		}
		comps, err := tr.Int()
		if err != nil {
			return err
		}
		typ := "float"
		if lr.binary {
			typ = "unsigned_char"
		}
		_, err = lr.values(comps*n, typ)
		return err
	case "LOOKUP_TABLE":
		if _, err := tr.Token(); err != nil {
			return err
		}
		size, err := tr.Int()
		if err != nil {
			return err
		}
		typ := "float"
		if lr.binary {
			typ = "unsigned_char"
		}
		_, err = lr.values(4*size, typ)
		return err
	case "METADATA":
		return lr.skipMetadata()
	}
	return fmt.Errorf("unknown attribute %q", kw)
}

func (lr *legacyReader) skipField() error {
	if _, err := lr.tr.Token(); err != nil {
		return err
	}
	count, err := lr.tr.Int()
	if err != nil {
		return err
	}
	for a := 0; a < count; a++ {
		_, comps, tuples, typ, err := lr.fieldHeader()
		if err != nil {
			return err
		}
		if _, err := lr.values(comps*tuples, typ); err != nil {
			return err
		}
		if err := lr.skipMetadataIfPresent(); err != nil {
			return err
		}
	}
	return nil
}

// skipMetadata discards a METADATA block, which ends at a blank line.
func (lr *legacyReader) skipMetadata() error {
	for {
		line, err := lr.tr.Line()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
	}
}

func (lr *legacyReader) skipMetadataIfPresent() error {
	for {
		peek, err := lr.tr.r.Peek(1)
		if err != nil || !isSpace(peek[0]) {
			break
		}
		lr.tr.r.ReadByte()
	}
	next, _ := lr.tr.r.Peek(len("METADATA"))
	if strings.EqualFold(string(next), "METADATA") {
		lr.tr.Token()
		return lr.skipMetadata()
	}
	return nil
}

// encodeLegacyVTK writes g in the binary legacy format with values as the
// point scalars.
func encodeLegacyVTK(w io.Writer, g *grid.Grid, values []float64, dtype ndarray.DType) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# vtk DataFile Version 3.0\nmedview\nBINARY\n")

	writeValues := func(vals []float64, e elemType) {
		bw.Write(encodeValues(vals, e, binary.BigEndian))
		bw.WriteByte('\n')
	}
	writeInts := func(vals []int) {
		f := make([]float64, len(vals))
		for i, v := range vals {
			f[i] = float64(v)
		}
		writeValues(f, elemI32)
	}

	switch g.Kind {
	case grid.ImageData:
		fmt.Fprintf(bw, "DATASET STRUCTURED_POINTS\nDIMENSIONS %d %d %d\n", g.Dims[0], g.Dims[1], g.Dims[2])
		fmt.Fprintf(bw, "SPACING %g %g %g\n", g.Spacing[0], g.Spacing[1], g.Spacing[2])
		fmt.Fprintf(bw, "ORIGIN %g %g %g\n", g.Origin[0], g.Origin[1], g.Origin[2])
	case grid.RectilinearGrid:
		fmt.Fprintf(bw, "DATASET RECTILINEAR_GRID\nDIMENSIONS %d %d %d\n", g.Dims[0], g.Dims[1], g.Dims[2])
		for i, c := range [][]float64{g.XCoords, g.YCoords, g.ZCoords} {
			fmt.Fprintf(bw, "%c_COORDINATES %d double\n", 'X'+i, len(c))
			writeValues(c, elemF64)
		}
	case grid.PolyData, grid.UnstructuredGrid:
		if g.Kind == grid.PolyData {
			fmt.Fprintf(bw, "DATASET POLYDATA\n")
		} else {
			fmt.Fprintf(bw, "DATASET UNSTRUCTURED_GRID\n")
		}
		xyz := make([]float64, 0, 3*len(g.Points))
		for _, p := range g.Points {
			xyz = append(xyz, p.X, p.Y, p.Z)
		}
		fmt.Fprintf(bw, "POINTS %d double\n", len(g.Points))
		writeValues(xyz, elemF64)

		if g.Kind == grid.PolyData {
			for _, sec := range polySections(g.Cells) {
				if len(sec.cells) == 0 {
					continue
				}
				conn := connectivity(sec.cells)
				fmt.Fprintf(bw, "%s %d %d\n", sec.keyword, len(sec.cells), len(conn))
				writeInts(conn)
			}
		} else if len(g.Cells) > 0 {
			conn := connectivity(g.Cells)
			fmt.Fprintf(bw, "CELLS %d %d\n", len(g.Cells), len(conn))
			writeInts(conn)
			types := make([]int, len(g.Cells))
			for i, c := range g.Cells {
				types[i] = int(c.Type)
			}
			fmt.Fprintf(bw, "CELL_TYPES %d\n", len(types))
			writeInts(types)
		}
	default:
		return fmt.Errorf("cannot write %s", g.Kind)
	}

	e := elemFor(dtype)
	name := g.ScalarName
	if name == "" || strings.ContainsAny(name, " \t\n") {
		name = grid.DefaultScalarName
	}
	fmt.Fprintf(bw, "POINT_DATA %d\nSCALARS %s %s 1\nLOOKUP_TABLE default\n", len(values), name, legacyTypeName(e))
	writeValues(values, e)
	return bw.Flush()
}

type polySection struct {
	keyword string
	cells   []grid.Cell
}

// polySections groups PolyData cells in the order the legacy format stores
// them.
func polySections(cells []grid.Cell) []polySection {
	secs := []polySection{{keyword: "VERTICES"}, {keyword: "LINES"}, {keyword: "POLYGONS"}, {keyword: "TRIANGLE_STRIPS"}}
	for _, c := range cells {
		switch c.Type {
		case grid.Vertex, grid.PolyVertex:
			secs[0].cells = append(secs[0].cells, c)
		case grid.Line, grid.PolyLine:
			secs[1].cells = append(secs[1].cells, c)
		case grid.TriStrip:
			secs[3].cells = append(secs[3].cells, c)
		default:
			secs[2].cells = append(secs[2].cells, c)
		}
	}
	return secs
}

func connectivity(cells []grid.Cell) []int {
	var out []int
	for _, c := range cells {
		out = append(out, len(c.Points))
		out = append(out, c.Points...)
	}
	return out
}

func writeLegacyFile(path string, g *grid.Grid, values []float64, dtype ndarray.DType) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encodeLegacyVTK(file, g, values, dtype)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
