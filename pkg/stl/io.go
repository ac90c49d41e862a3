package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const headerSize = 80

type binaryFacet struct {
	Normal    [3]float32
	Vertex1   [3]float32
	Vertex2   [3]float32
	Vertex3   [3]float32
	Attribute uint16
}

// SaveToSTL writes triangles to filename as binary STL.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := WriteSTL(w, triangles); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteSTL encodes triangles as binary STL.
func WriteSTL(w io.Writer, triangles []Triangle) error {
	var header [headerSize]byte
	copy(header[:], "binary STL written by medview")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}
	for _, t := range triangles {
		f := binaryFacet{Normal: t.Normal, Vertex1: t.Vertex1, Vertex2: t.Vertex2, Vertex3: t.Vertex3}
		if err := binary.Write(w, binary.LittleEndian, &f); err != nil {
			return err
		}
	}
	return nil
}

// LoadSTL reads a binary or ASCII STL file.
func LoadSTL(filename string) ([]Triangle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseSTL(data)
}

// ParseSTL decodes binary or ASCII STL content.
func ParseSTL(data []byte) ([]Triangle, error) {
	if len(data) >= headerSize+4 {
		n := binary.LittleEndian.Uint32(data[headerSize:])
		if uint64(len(data)) == uint64(headerSize+4)+uint64(n)*50 {
			return parseBinary(data[headerSize+4:], int(n))
		}
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("solid")) {
		return parseASCII(trimmed)
	}
	return nil, fmt.Errorf("not an STL file (%d bytes)", len(data))
}

func parseBinary(data []byte, n int) ([]Triangle, error) {
	r := bytes.NewReader(data)
	triangles := make([]Triangle, n)
	for i := range triangles {
		var f binaryFacet
		if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
			return nil, fmt.Errorf("facet %d: %w", i, err)
		}
		triangles[i] = Triangle{Normal: f.Normal, Vertex1: f.Vertex1, Vertex2: f.Vertex2, Vertex3: f.Vertex3}
	}
	return triangles, nil
}

func parseASCII(data []byte) ([]Triangle, error) {
	var (
		triangles []Triangle
		cur       Triangle
		vertices  int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			if len(fields) != 5 || fields[1] != "normal" {
				return nil, fmt.Errorf("line %d: malformed facet", line)
			}
			v, err := parseVec(fields[2:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			cur = Triangle{Normal: v}
			vertices = 0
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: malformed vertex", line)
			}
			v, err := parseVec(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			switch vertices {
			case 0:
				cur.Vertex1 = v
			case 1:
				cur.Vertex2 = v
			case 2:
				cur.Vertex3 = v
			default:
				return nil, fmt.Errorf("line %d: facet has more than three vertices", line)
			}
			vertices++
		case "endfacet":
			if vertices != 3 {
				return nil, fmt.Errorf("line %d: facet has %d vertices", line, vertices)
			}
			triangles = append(triangles, cur)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return triangles, nil
}

func parseVec(fields []string) ([3]float32, error) {
	var v [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
