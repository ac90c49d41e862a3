package formats

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
	"medview/pkg/stl"
)

type gridCodec struct{}

// Decode reads a grid or mesh file and returns its first point scalar field
// reshaped to the grid dimensions.
func (gridCodec) Decode(path string) (*Dataset, error) {
	g, err := decodeGridFile(path)
	if err != nil {
		return nil, err
	}
	arr, err := g.Array()
	if err != nil {
		return nil, err
	}
	return &Dataset{Kind: HasGrid, Array: arr, Grid: g}, nil
}

func decodeGridFile(path string) (*grid.Grid, error) {
	ext := strings.ToLower(Extension(path))
	switch ext {
	case "vti", "vtr", "vtp", "vtu", "pvti", "pvtr", "pvtu":
		x, err := readVTKXML(path)
		if err != nil {
			return nil, err
		}
		return x.Grid()
	case "pvtk":
		return decodePVTK(path)
	case "stl":
		tris, err := stl.LoadSTL(path)
		if err != nil {
			return nil, err
		}
		m := stl.ToMesh(tris, 0)
		return grid.NewMesh(grid.PolyData, m.Points, m.Cells, nil), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := bufio.NewReader(file)
	switch ext {
	case "vtk":
		return decodeLegacyVTK(r)
	case "ply":
		return decodePLY(r)
	case "obj":
		return decodeOBJ(r)
	}
	return nil, fmt.Errorf("no grid reader for %q", ext)
}

// decodePVTK reads a parallel legacy file: either legacy content under a
// .pvtk name or an XML index whose pieces are legacy files.
func decodePVTK(path string) (*grid.Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("# vtk")) {
		return decodeLegacyVTK(bytes.NewReader(data))
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	root := xmlquery.FindOne(doc, "//File")
	if root == nil {
		return nil, fmt.Errorf("no File element")
	}
	nodes := root.SelectElements("Piece")
	if len(nodes) == 0 {
		return nil, fmt.Errorf("index lists no pieces")
	}

	var (
		grids   []*grid.Grid
		extents [][6]int
	)
	for _, n := range nodes {
		src := n.SelectAttr("fileName")
		if src == "" {
			return nil, fmt.Errorf("piece without fileName")
		}
		if !filepath.IsAbs(src) {
			src = filepath.Join(filepath.Dir(path), src)
		}
		file, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		g, err := decodeLegacyVTK(bufio.NewReader(file))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("piece %s: %w", src, err)
		}
		grids = append(grids, g)
		if e := n.SelectAttr("extent"); e != "" {
			ext, err := parseExtent(e)
			if err != nil {
				return nil, err
			}
			extents = append(extents, ext)
		}
	}
	if len(grids) == 1 {
		return grids[0], nil
	}

	x := &xmlDataset{kind: grids[0].Kind, spacing: grids[0].Spacing}
	for _, g := range grids[1:] {
		if g.Kind != x.kind {
			return nil, fmt.Errorf("pieces mix %s and %s", x.kind, g.Kind)
		}
	}
	if !x.kind.IsMesh() && len(extents) != len(grids) {
		return nil, fmt.Errorf("structured pieces need extents")
	}
	for i, g := range grids {
		p := xmlPiece{
			points:  g.Points,
			cells:   g.Cells,
			scalars: g.Scalars,
			name:    g.ScalarName,
			dtype:   g.ScalarType,
			coords:  [3][]float64{g.XCoords, g.YCoords, g.ZCoords},
		}
		if !x.kind.IsMesh() {
			p.extent = extents[i]
		}
		x.pieces = append(x.pieces, p)
	}
	if x.kind.IsMesh() {
		return x.Grid()
	}

	x.whole = extents[0]
	for _, e := range extents[1:] {
		for i := 0; i < 6; i += 2 {
			x.whole[i] = min(x.whole[i], e[i])
			x.whole[i+1] = max(x.whole[i+1], e[i+1])
		}
	}
	if w := root.SelectAttr("wholeExtent"); w != "" {
		if x.whole, err = parseExtent(w); err != nil {
			return nil, err
		}
	}
	first := grids[0]
	for i := 0; i < 3; i++ {
		x.origin[i] = first.Origin[i] - float64(extents[0][2*i])*first.Spacing[i]
	}
	return x.Grid()
}

// Encode writes the dataset grid with the array values as its point
// scalars.
func (gridCodec) Encode(path string, ds *Dataset, opts Options) error {
	if ds.Grid == nil {
		return fmt.Errorf("grid formats need a grid")
	}
	g := ds.Grid.Clone()
	if n := g.NumPoints(); ds.Array.Len() != n {
		return fmt.Errorf("array holds %d values for %d grid points", ds.Array.Len(), n)
	}
	values, dtype := ds.Array.Data(), ds.Array.DType()
	g.Scalars, g.ScalarType = values, dtype
	if g.ScalarName == "" {
		g.ScalarName = grid.DefaultScalarName
	}

	ext := strings.ToLower(Extension(path))
	switch ext {
	case "vtk":
		return writeLegacyFile(path, g, values, dtype)
	case "pvtk":
		return writePVTK(path, g, values, dtype)
	case "ply":
		return needMesh(ext, g, func() error { return writePLYFile(path, g, values, dtype) })
	case "obj":
		return needMesh(ext, g, func() error { return writeOBJFile(path, g) })
	case "stl":
		return needMesh(ext, g, func() error { return stl.SaveToSTL(path, stl.FromMesh(g)) })
	}

	typ, ok := xmlTypeFor(ext)
	if !ok {
		return fmt.Errorf("no grid writer for %q", ext)
	}
	if structured := typ == "ImageData" || typ == "RectilinearGrid"; structured == g.Kind.IsMesh() {
		return fmt.Errorf("%s cannot hold %s", ext, g.Kind)
	}
	if !strings.HasPrefix(ext, "p") {
		data, err := encodeVTKXML(typ, g, values, dtype, opts.Compress)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
	piece := pieceName(path, ext[1:])
	data, err := encodeVTKXML(typ, g, values, dtype, opts.Compress)
	if err != nil {
		return err
	}
	if err := os.WriteFile(piece, data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(path, encodeParallelXML(typ, g, dtype, filepath.Base(piece)), 0o644)
}

func xmlTypeFor(ext string) (string, bool) {
	switch strings.TrimPrefix(ext, "p") {
	case "vti":
		return "ImageData", true
	case "vtr":
		return "RectilinearGrid", true
	case "vtp":
		return "PolyData", true
	case "vtu":
		return "UnstructuredGrid", true
	}
	return "", false
}

func needMesh(ext string, g *grid.Grid, write func() error) error {
	if !g.Kind.IsMesh() {
		return fmt.Errorf("%s cannot hold %s", ext, g.Kind)
	}
	return write()
}

// pieceName returns the path of the single piece of a parallel file,
// "<stem>_0.<ext>" beside it.
func pieceName(path, ext string) string {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return stem + "_0." + ext
}

// writePVTK writes one legacy piece and an XML index referencing it.
func writePVTK(path string, g *grid.Grid, values []float64, dtype ndarray.DType) error {
	piece := pieceName(path, "vtk")
	if err := writeLegacyFile(piece, g, values, dtype); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<File version=\"pvtk-1.0\" dataType=\"vtk%s\" numberOfPieces=\"1\"", g.Kind)
	if !g.Kind.IsMesh() {
		fmt.Fprintf(&b, " wholeExtent=\"%s\"", extentString(g.Dims))
	}
	b.WriteString(">\n")
	fmt.Fprintf(&b, "  <Piece fileName=\"%s\"", xmlEscape(filepath.Base(piece)))
	if !g.Kind.IsMesh() {
		fmt.Fprintf(&b, " extent=\"%s\"", extentString(g.Dims))
	}
	b.WriteString("/>\n</File>\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
