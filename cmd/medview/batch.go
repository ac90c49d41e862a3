package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"medview/pkg/errs"
)

// BatchCmd reads every input, applies the operations and writes the result
// into an output directory, processing files concurrently.
type BatchCmd struct {
	OutDir string   `arg:"" help:"Output directory" type:"path"`
	Files  []string `arg:"" help:"Input datasets"`
	Op     []string `name:"op" short:"o" help:"Catalog operation; repeat to chain"`
	Ext    string   `help:"Output extension selecting the format" default:"png"`
}

func (c *BatchCmd) Run(rc *runContext) error {
	return c.run(context.Background(), rc)
}

func (c *BatchCmd) run(ctx context.Context, rc *runContext) error {
	outs, err := c.outputs()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.OutDir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	start := time.Now()
	var done atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.cfg.Batch.Workers)
	for i, in := range c.Files {
		out := outs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := rc.load(in)
			if err != nil {
				return err
			}
			// One generator per file keeps noise reproducible for any worker count.
			res, err := rc.process(m, rc.rng(uint64(i)), c.Op)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			if err := res.Write(out, rc.writeOptions()...); err != nil {
				return err
			}
			rc.logf("[%d/%d] %s -> %s", done.Add(1), len(c.Files), in, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(rc.out, "Processed %d files in %s\n", len(c.Files), time.Since(start).Round(time.Millisecond))
	return nil
}

// outputs maps every input to its output path. Inputs that would share an
// output, such as scan.png and scan.jpg, are rejected.
func (c *BatchCmd) outputs() ([]string, error) {
	ext := "." + strings.TrimPrefix(c.Ext, ".")
	outs := make([]string, len(c.Files))
	seen := make(map[string]string, len(c.Files))
	for i, in := range c.Files {
		out := filepath.Join(c.OutDir, stem(in)+ext)
		if prev, ok := seen[out]; ok {
			return nil, errs.Invalid("batch", "%s and %s would both write %s", prev, in, out)
		}
		seen[out] = in
		outs[i] = out
	}
	return outs, nil
}

// stem returns the base name of path without its extensions, so that
// brain.nii.gz becomes brain.
func stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
