package formats

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/grid"
	"medview/pkg/ndarray"
)

var plyTypes = map[string]elemType{
	"char":    elemI8,
	"int8":    elemI8,
	"uchar":   elemU8,
	"uint8":   elemU8,
	"short":   elemI16,
	"int16":   elemI16,
	"ushort":  elemU16,
	"uint16":  elemU16,
	"int":     elemI32,
	"int32":   elemI32,
	"uint":    elemU32,
	"uint32":  elemU32,
	"float":   elemF32,
	"float32": elemF32,
	"double":  elemF64,
	"float64": elemF64,
}

func plyTypeName(e elemType) (string, elemType) {
	switch e {
	case elemI8:
		return "char", e
	case elemU8:
		return "uchar", e
	case elemI16:
		return "short", e
	case elemU16:
		return "ushort", e
	case elemI32:
		return "int", e
	case elemU32:
		return "uint", e
	case elemF32:
		return "float", e
	}
	return "double", elemF64
}

type plyProperty struct {
	name      string
	typ       elemType
	list      bool
	countType elemType
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

// plyReader reads property values in ascii or binary encoding.
type plyReader struct {
	tr    *tokenReader
	order binary.ByteOrder
}

func (pr *plyReader) value(e elemType) (float64, error) {
	if pr.order == nil {
		return pr.tr.Float()
	}
	b, err := pr.tr.Bytes(e.size())
	if err != nil {
		return 0, err
	}
	return e.get(b, pr.order), nil
}

var plyGeometry = map[string]bool{"x": true, "y": true, "z": true, "nx": true, "ny": true, "nz": true}

// decodePLY reads a PLY mesh. The first vertex property that is not a
// coordinate or normal becomes the scalar field; faces become polygons and
// edges become lines.
func decodePLY(r io.Reader) (*grid.Grid, error) {
	pr := &plyReader{tr: newTokenReader(r)}
	line, err := pr.tr.Line()
	if err != nil || strings.TrimSpace(line) != "ply" {
		return nil, fmt.Errorf("missing ply magic")
	}

	var elements []*plyElement
	for {
		line, err := pr.tr.Line()
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "format":
			if len(f) < 2 {
				return nil, fmt.Errorf("bad format line %q", line)
			}
			switch f[1] {
			case "ascii":
			case "binary_little_endian":
				pr.order = binary.LittleEndian
			case "binary_big_endian":
				pr.order = binary.BigEndian
			default:
				return nil, fmt.Errorf("unsupported format %q", f[1])
			}
		case "comment", "obj_info":
		case "element":
			if len(f) != 3 {
				return nil, fmt.Errorf("bad element line %q", line)
			}
			var n int
			if _, err := fmt.Sscan(f[2], &n); err != nil || n < 0 {
				return nil, fmt.Errorf("bad element count %q", f[2])
			}
			elements = append(elements, &plyElement{name: f[1], count: n})
		case "property":
			if len(elements) == 0 {
				return nil, fmt.Errorf("property before element")
			}
			el := elements[len(elements)-1]
			var p plyProperty
			var ok bool
			switch {
			case len(f) == 5 && f[1] == "list":
				p.list, p.name = true, f[4]
				if p.countType, ok = plyTypes[f[2]]; !ok {
					return nil, fmt.Errorf("unknown type %q", f[2])
				}
				if p.typ, ok = plyTypes[f[3]]; !ok {
					return nil, fmt.Errorf("unknown type %q", f[3])
				}
			case len(f) == 3:
				p.name = f[2]
				if p.typ, ok = plyTypes[f[1]]; !ok {
					return nil, fmt.Errorf("unknown type %q", f[1])
				}
			default:
				return nil, fmt.Errorf("bad property line %q", line)
			}
			el.props = append(el.props, p)
		case "end_header":
			return readPLYBody(pr, elements)
		default:
			return nil, fmt.Errorf("unexpected header line %q", line)
		}
	}
}

func readPLYBody(pr *plyReader, elements []*plyElement) (*grid.Grid, error) {
	var (
		points     []r3.Vec
		cells      []grid.Cell
		scalars    []float64
		scalarName string
		scalarType elemType
	)
	for _, el := range elements {
		scalarIdx := -1
		axis := map[string]int{}
		if el.name == "vertex" {
			for i, p := range el.props {
				switch {
				case p.name == "x" || p.name == "y" || p.name == "z":
					axis[p.name] = i
				case scalarIdx < 0 && !p.list && !plyGeometry[p.name]:
					scalarIdx, scalarName, scalarType = i, p.name, p.typ
				}
			}
			if len(axis) != 3 {
				return nil, fmt.Errorf("vertex element lacks x, y or z")
			}
		}

		row := make([]float64, len(el.props))
		for n := 0; n < el.count; n++ {
			var lists [][]int
			for i, p := range el.props {
				if !p.list {
					v, err := pr.value(p.typ)
					if err != nil {
						return nil, fmt.Errorf("%s %d: %w", el.name, n, err)
					}
					row[i] = v
					continue
				}
				c, err := pr.value(p.countType)
				if err != nil {
					return nil, fmt.Errorf("%s %d: %w", el.name, n, err)
				}
				ids := make([]int, int(c))
				for k := range ids {
					v, err := pr.value(p.typ)
					if err != nil {
						return nil, fmt.Errorf("%s %d: %w", el.name, n, err)
					}
					ids[k] = int(v)
				}
				if p.name == "vertex_indices" || p.name == "vertex_index" {
					lists = append(lists, ids)
				}
			}

			switch el.name {
			case "vertex":
				points = append(points, r3.Vec{X: row[axis["x"]], Y: row[axis["y"]], Z: row[axis["z"]]})
				if scalarIdx >= 0 {
					scalars = append(scalars, row[scalarIdx])
				}
			case "face":
				for _, ids := range lists {
					ct := grid.Polygon
					if len(ids) == 3 {
						ct = grid.Triangle
					}
					cells = append(cells, grid.Cell{Type: ct, Points: ids})
				}
			case "edge":
				if len(el.props) >= 2 {
					cells = append(cells, grid.Cell{Type: grid.Line, Points: []int{int(row[0]), int(row[1])}})
				}
			}
		}
	}

	g := grid.NewMesh(grid.PolyData, points, cells, scalars)
	if scalars != nil {
		g.ScalarName = scalarName
		g.ScalarType = scalarType.dtype()
	}
	return g, g.Validate()
}

// encodePLY writes a mesh as binary little-endian PLY with the scalar field
// as an extra vertex property.
func encodePLY(w io.Writer, g *grid.Grid, values []float64, dtype ndarray.DType) error {
	typName, elem := plyTypeName(elemFor(dtype))
	name := strings.Join(strings.Fields(g.ScalarName), "_")
	if name == "" || plyGeometry[name] {
		name = grid.DefaultScalarName
	}
	faces, lines := surfaceFaces(g.Cells), lineSegments(g.Cells)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\ncomment medview\n")
	fmt.Fprintf(bw, "element vertex %d\nproperty double x\nproperty double y\nproperty double z\nproperty %s %s\n",
		len(g.Points), typName, name)
	fmt.Fprintf(bw, "element face %d\nproperty list uchar int vertex_indices\n", len(faces))
	if len(lines) > 0 {
		fmt.Fprintf(bw, "element edge %d\nproperty int vertex1\nproperty int vertex2\n", len(lines))
	}
	bw.WriteString("end_header\n")

	le := binary.LittleEndian
	buf := make([]byte, 8)
	for i, p := range g.Points {
		for _, v := range []float64{p.X, p.Y, p.Z} {
			elemF64.put(buf, v, le)
			bw.Write(buf[:8])
		}
		elem.put(buf, values[i], le)
		bw.Write(buf[:elem.size()])
	}
	for _, f := range faces {
		if len(f) > 255 {
			return fmt.Errorf("face with %d vertices exceeds the uchar count", len(f))
		}
		bw.WriteByte(byte(len(f)))
		for _, id := range f {
			le.PutUint32(buf, uint32(id))
			bw.Write(buf[:4])
		}
	}
	for _, l := range lines {
		le.PutUint32(buf, uint32(l[0]))
		le.PutUint32(buf[4:], uint32(l[1]))
		bw.Write(buf[:8])
	}
	return bw.Flush()
}

// surfaceFaces returns the polygonal faces of the surface cells. Pixels are
// reordered to polygon winding and strips are split into triangles.
func surfaceFaces(cells []grid.Cell) [][]int {
	var out [][]int
	for _, c := range cells {
		switch c.Type {
		case grid.Triangle, grid.Polygon, grid.Quad:
			out = append(out, c.Points)
		case grid.Pixel:
			if len(c.Points) == 4 {
				p := c.Points
				out = append(out, []int{p[0], p[1], p[3], p[2]})
			}
		case grid.TriStrip:
			g := grid.Grid{Cells: []grid.Cell{c}}
			for _, t := range g.Triangles() {
				out = append(out, []int{t[0], t[1], t[2]})
			}
		}
	}
	return out
}

// lineSegments splits line and polyline cells into point pairs.
func lineSegments(cells []grid.Cell) [][2]int {
	var out [][2]int
	for _, c := range cells {
		if c.Type != grid.Line && c.Type != grid.PolyLine {
			continue
		}
		for k := 0; k+1 < len(c.Points); k++ {
			out = append(out, [2]int{c.Points[k], c.Points[k+1]})
		}
	}
	return out
}

func writePLYFile(path string, g *grid.Grid, values []float64, dtype ndarray.DType) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encodePLY(file, g, values, dtype)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
