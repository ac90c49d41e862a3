// Command medview reads, converts and processes medical images and volumes
// from the command line.
package main

import (
	"io"
	"log"
	"math/rand/v2"
	"os"

	"github.com/alecthomas/kong"
	"gopkg.in/natefinch/lumberjack.v2"

	"medview/pkg/config"
	"medview/pkg/formats"
)

// CLI defines the command-line interface for medview.
type CLI struct {
	// Global flags
	Config  string `name:"config" short:"c" help:"Configuration file (YAML, or TOML by extension)" type:"path"`
	Verbose bool   `short:"v" help:"Log progress"`

	Info       InfoCmd       `cmd:"" help:"Describe a dataset"`
	Convert    ConvertCmd    `cmd:"" help:"Read a dataset and write it in another format"`
	Process    ProcessCmd    `cmd:"" help:"Apply catalog operations in order and write the result"`
	Ops        OpsCmd        `cmd:"" help:"List catalog operations"`
	Histogram  HistogramCmd  `cmd:"" help:"Render an intensity histogram"`
	Slice      SliceCmd      `cmd:"" help:"Cut a 2D slice from a volume"`
	Isosurface IsosurfaceCmd `cmd:"" help:"Extract iso-surfaces from a volume"`
	Batch      BatchCmd      `cmd:"" help:"Process many files concurrently"`
}

// runContext carries the loaded configuration into every command.
type runContext struct {
	cfg     *config.Config
	verbose bool
	out     io.Writer
}

// logf logs only in verbose mode.
func (rc *runContext) logf(format string, args ...any) {
	if rc.verbose {
		log.Printf(format, args...)
	}
}

// writeOptions maps the output section onto encoder options.
func (rc *runContext) writeOptions() []formats.Option {
	return []formats.Option{
		formats.WithJPEGQuality(rc.cfg.Output.JPEGQuality),
		formats.WithCompression(rc.cfg.Output.Compress),
	}
}

// rng returns a generator seeded from the configuration and stream.
func (rc *runContext) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(rc.cfg.Noise.Seed, stream))
}

func newRunContext(c *CLI, out io.Writer) (*runContext, error) {
	cfg := config.DefaultConfig()
	if c.Config != "" {
		var err error
		if cfg, err = config.LoadConfig(c.Config); err != nil {
			return nil, err
		}
	}
	return &runContext{cfg: cfg, verbose: c.Verbose || cfg.Output.Verbose, out: out}, nil
}

// setupLogging sends log output to a rotating file when one is configured.
func setupLogging(cfg *config.Config) {
	log.SetFlags(log.LstdFlags)
	if cfg.Logging.File == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB, // megabytes
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("medview"),
		kong.Description("Medical image and volume format conversion and processing"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	rc, err := newRunContext(&cli, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(rc.cfg)

	err = ctx.Run(rc)
	ctx.FatalIfErrorf(err)
}
