package formats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"medview/pkg/grid"
)

// decodeOBJ reads the vertices, faces, lines and points of a Wavefront OBJ
// file. Texture and normal references are ignored; negative indices count
// back from the latest vertex. OBJ carries no point data, so the scalars are
// the point elevation.
func decodeOBJ(r io.Reader) (*grid.Grid, error) {
	var (
		points []r3.Vec
		cells  []grid.Cell
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "v":
			if len(f) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", lineNo)
			}
			var xyz [3]float64
			for i := range xyz {
				v, err := strconv.ParseFloat(f[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad coordinate %q", lineNo, f[i+1])
				}
				xyz[i] = v
			}
			points = append(points, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
		case "f", "l", "p":
			ids := make([]int, 0, len(f)-1)
			for _, ref := range f[1:] {
				id, err := objIndex(ref, len(points))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				ids = append(ids, id)
			}
			switch {
			case f[0] == "f" && len(ids) == 3:
				cells = append(cells, grid.Cell{Type: grid.Triangle, Points: ids})
			case f[0] == "f" && len(ids) > 3:
				cells = append(cells, grid.Cell{Type: grid.Polygon, Points: ids})
			case f[0] == "l" && len(ids) == 2:
				cells = append(cells, grid.Cell{Type: grid.Line, Points: ids})
			case f[0] == "l" && len(ids) > 2:
				cells = append(cells, grid.Cell{Type: grid.PolyLine, Points: ids})
			case f[0] == "p":
				for _, id := range ids {
					cells = append(cells, grid.Cell{Type: grid.Vertex, Points: []int{id}})
				}
			default:
				return nil, fmt.Errorf("line %d: %q element with %d vertices", lineNo, f[0], len(ids))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no vertices")
	}
	return grid.NewMesh(grid.PolyData, points, cells, nil), nil
}

// objIndex resolves a "v/vt/vn" reference to a zero-based vertex index.
func objIndex(ref string, count int) (int, error) {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		ref = ref[:i]
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("bad vertex reference %q", ref)
	}
	switch {
	case n > 0 && n <= count:
		return n - 1, nil
	case n < 0 && -n <= count:
		return count + n, nil
	}
	return 0, fmt.Errorf("vertex reference %d out of range 1..%d", n, count)
}

// encodeOBJ writes the points and the surface, line and vertex cells of a
// mesh. Scalars are not representable and are dropped.
func encodeOBJ(w io.Writer, g *grid.Grid) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("# medview\n")
	for _, p := range g.Points {
		fmt.Fprintf(bw, "v %s %s %s\n",
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
			strconv.FormatFloat(p.Z, 'g', -1, 64))
	}
	writeRefs := func(kind string, ids []int) {
		bw.WriteString(kind)
		for _, id := range ids {
			bw.WriteByte(' ')
			bw.WriteString(strconv.Itoa(id + 1))
		}
		bw.WriteByte('\n')
	}
	for _, c := range g.Cells {
		switch c.Type {
		case grid.Vertex, grid.PolyVertex:
			writeRefs("p", c.Points)
		case grid.Line, grid.PolyLine:
			writeRefs("l", c.Points)
		}
	}
	for _, f := range surfaceFaces(g.Cells) {
		writeRefs("f", f)
	}
	return bw.Flush()
}

func writeOBJFile(path string, g *grid.Grid) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encodeOBJ(file, g)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
