package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot/vg"

	"medview/pkg/grid"
	"medview/pkg/histogram"
	"medview/pkg/manager"
)

// load reads path into a new manager.
func (rc *runContext) load(path string) (*manager.DataManager, error) {
	m := &manager.DataManager{}
	start := time.Now()
	if err := m.Read(path); err != nil {
		return nil, err
	}
	rc.logf("Read %s as %v in %s", path, m, time.Since(start).Round(time.Millisecond))
	return m, nil
}

// InfoCmd describes a dataset.
type InfoCmd struct {
	File string `arg:"" help:"Dataset to describe" type:"existingfile"`
}

func (c *InfoCmd) Run(rc *runContext) error {
	m, err := rc.load(c.File)
	if err != nil {
		return err
	}
	a := m.Array()
	mode := "2D"
	if m.Is3D() {
		mode = "3D"
	}

	w := rc.out
	fmt.Fprintf(w, "File:     %s\n", c.File)
	if st, err := os.Stat(c.File); err == nil {
		fmt.Fprintf(w, "Size:     %s\n", humanize.Bytes(uint64(st.Size())))
	}
	fmt.Fprintf(w, "Mode:     %s\n", mode)
	fmt.Fprintf(w, "Shape:    %v (%s elements)\n", a.Shape(), humanize.Comma(int64(a.Len())))
	fmt.Fprintf(w, "DType:    %s\n", a.DType())
	lo, hi := a.MinMax()
	fmt.Fprintf(w, "Range:    %g .. %g\n", lo, hi)
	fmt.Fprintf(w, "BLAKE3:   %s\n", a.Digest())

	if g := m.Grid(); g != nil {
		fmt.Fprintf(w, "Grid:     %s %v\n", g.Kind, g.Dims)
		if g.Kind.IsMesh() {
			fmt.Fprintf(w, "Cells:    %d\n", len(g.Cells))
		} else {
			fmt.Fprintf(w, "Spacing:  %v\n", g.Spacing)
			fmt.Fprintf(w, "Origin:   %v\n", g.Origin)
		}
		fmt.Fprintf(w, "Scalars:  %s\n", g.ScalarName)
	}
	if md := m.Metadata(); md != nil {
		fmt.Fprintf(w, "Patient:  %s (%s)\n", md.PatientName, md.PatientID)
		fmt.Fprintf(w, "Modality: %s\n", md.Modality)
		fmt.Fprintf(w, "Study:    %s %s\n", md.StudyDate, md.StudyDescription)
		fmt.Fprintf(w, "Frames:   %d\n", md.Frames)
	}
	return nil
}

// ConvertCmd reads a dataset and writes it in another format.
type ConvertCmd struct {
	In  string `arg:"" help:"Input dataset" type:"existingfile"`
	Out string `arg:"" help:"Output file; the extension selects the format" type:"path"`
}

func (c *ConvertCmd) Run(rc *runContext) error {
	m, err := rc.load(c.In)
	if err != nil {
		return err
	}
	if err := m.Write(c.Out, rc.writeOptions()...); err != nil {
		return err
	}
	rc.logf("Wrote %s", c.Out)
	return nil
}

// ProcessCmd applies catalog operations in order.
type ProcessCmd struct {
	In  string   `arg:"" help:"Input dataset" type:"existingfile"`
	Out string   `arg:"" help:"Output file" type:"path"`
	Op  []string `name:"op" short:"o" required:"" help:"Catalog operation; repeat to chain"`
}

func (c *ProcessCmd) Run(rc *runContext) error {
	m, err := rc.load(c.In)
	if err != nil {
		return err
	}
	out, err := rc.process(m, rc.rng(0), c.Op)
	if err != nil {
		return err
	}
	if err := out.Write(c.Out, rc.writeOptions()...); err != nil {
		return err
	}
	rc.logf("Wrote %s", c.Out)
	return nil
}

// process runs the named operations with the configured defaults.
func (rc *runContext) process(m *manager.DataManager, rng *rand.Rand, names []string) (*manager.DataManager, error) {
	ops := manager.Catalog(rc.cfg.Settings(), rng)
	cur := m
	for _, name := range names {
		start := time.Now()
		next, err := manager.Apply(cur, ops, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rc.logf("Applied %s in %s: %v", name, time.Since(start).Round(time.Millisecond), next)
		cur = next
	}
	return cur, nil
}

// OpsCmd lists the catalog.
type OpsCmd struct{}

func (c *OpsCmd) Run(rc *runContext) error {
	_, err := fmt.Fprintln(rc.out, strings.Join(manager.OperationNames(), "\n"))
	return err
}

// HistogramCmd renders an intensity histogram chart.
type HistogramCmd struct {
	In   string `arg:"" help:"Input dataset" type:"existingfile"`
	Out  string `arg:"" help:"Chart file (png, svg, pdf)" type:"path"`
	Bins int    `help:"Number of bins; 0 uses the configured value"`
	Text bool   `help:"Also print the non-empty bins"`
}

func (c *HistogramCmd) Run(rc *runContext) error {
	m, err := rc.load(c.In)
	if err != nil {
		return err
	}
	bins := c.Bins
	if bins == 0 {
		bins = rc.cfg.Histogram.Bins
	}
	p := histogram.NewPNGPresenter(c.Out)
	p.Title = c.In
	p.Width = vg.Length(rc.cfg.Histogram.Width) * vg.Inch
	p.Height = vg.Length(rc.cfg.Histogram.Height) * vg.Inch
	h, err := m.Histogram(bins, p)
	if err != nil {
		return err
	}
	if c.Text {
		return histogram.TextPresenter{W: rc.out}.Present(h)
	}
	return nil
}

// SliceCmd cuts a slice from a volume, either along a plane or an axis.
type SliceCmd struct {
	In       string `arg:"" help:"Input volume" type:"existingfile"`
	Out      string `arg:"" help:"Output image" type:"path"`
	Normal   string `help:"Plane normal as x,y,z" default:"0,0,1"`
	Origin   string `help:"Point on the plane as x,y,z; defaults to the volume centre"`
	Axis     string `help:"Axis-aligned slice along x, y or z instead of a plane"`
	Position int    `help:"Voxel index of an axis-aligned slice"`
}

func (c *SliceCmd) Run(rc *runContext) error {
	m, err := rc.load(c.In)
	if err != nil {
		return err
	}
	var s *manager.DataManager
	if c.Axis != "" {
		s, err = m.SliceAxis(c.Axis, c.Position)
	} else {
		origin := c.Origin
		if origin == "" {
			origin = centre(m)
		}
		normal, o, perr := manager.ParseSlicePlane(c.Normal, origin)
		if perr != nil {
			return perr
		}
		s, err = m.Slice(normal, o)
	}
	if err != nil {
		return err
	}
	return s.Write(c.Out, rc.writeOptions()...)
}

// centre formats the bounding box centre of the volume as x,y,z.
func centre(m *manager.DataManager) string {
	g := m.Grid()
	if g == nil {
		g = grid.FromArray(m.Array())
	}
	lo, hi := g.Bounds()
	return fmt.Sprintf("%g,%g,%g", (lo.X+hi.X)/2, (lo.Y+hi.Y)/2, (lo.Z+hi.Z)/2)
}

// IsosurfaceCmd extracts iso-surfaces from a volume.
type IsosurfaceCmd struct {
	In      string `arg:"" help:"Input volume" type:"existingfile"`
	Out     string `arg:"" help:"Output mesh (vtk, vtp, ply, obj, stl)" type:"path"`
	Start   string `help:"First contour value" required:""`
	Stop    string `help:"Last contour value" required:""`
	Num     string `help:"Number of contours" default:"1"`
	Opacity string `help:"Display opacity in [0, 1]" default:"1"`
	Outline bool   `help:"Also write the bounding box next to the surface"`
}

func (c *IsosurfaceCmd) Run(rc *runContext) error {
	p, err := manager.ParseIsoSurfaceParams(c.Start, c.Stop, c.Num, c.Opacity)
	if err != nil {
		return err
	}
	m, err := rc.load(c.In)
	if err != nil {
		return err
	}
	s, err := m.IsoSurface(p)
	if err != nil {
		return err
	}
	rc.logf("Extracted %d cells over %d points at opacity %g", len(s.Mesh.Cells), len(s.Mesh.Points), s.Opacity)
	if err := s.Write(c.Out, rc.writeOptions()...); err != nil {
		return err
	}
	if !c.Outline {
		return nil
	}
	box, err := m.Outline()
	if err != nil {
		return err
	}
	return box.Write(outlinePath(c.Out), rc.writeOptions()...)
}

// outlinePath inserts "_outline" before the extension of path.
func outlinePath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsAny(path[i:], `/\`) {
		return path + "_outline"
	}
	return path[:i] + "_outline" + path[i:]
}
