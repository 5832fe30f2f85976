// Package pipeline extracts unmapped read pairs, either by aligning reads to a
// reference or from an existing alignment file.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/dasnellings/getUnmapped/filter"
	"github.com/dasnellings/getUnmapped/tools"
)

// Mode describes where the alignment stream comes from.
type Mode int

const (
	// Direct mode filters a supplied BAM file.
	Direct Mode = iota
	// Align mode aligns paired reads to a reference first.
	Align
)

func (m Mode) String() string {
	if m == Align {
		return "align"
	}
	return "direct"
}

// Options are the user settings gathered from the command line.
type Options struct {
	Base    string // outputs are {Base}_R1.fastq.gz, {Base}_R2.fastq.gz, and {Base}.bam
	Semi    bool
	Keep    bool
	Force   bool
	Verbose bool
	Native  bool   // filter and convert in process instead of with samtools and bedtools
	TmpDir  string // parent of the working area, os.TempDir() when empty
	Threads int    // aligner threads, runtime.NumCPU() when < 1
}

// Config is the resolved, immutable description of a run.
type Config struct {
	Mode      Mode
	Alignment string // Direct mode input
	Reference string // Align mode inputs
	Reads1    string
	Reads2    string

	Policy  filter.Policy
	Base    string
	Keep    bool
	Force   bool
	Verbose bool
	Native  bool
	TmpDir  string
	Threads int
}

const defaultBase = "./unmapped"

// Resolve validates the positional arguments and builds a Config. It touches no
// files; the only side effect is the warning logged when --keep is overridden.
func Resolve(args []string, opts Options) (Config, error) {
	cfg := Config{
		Base:    opts.Base,
		Keep:    opts.Keep,
		Force:   opts.Force,
		Verbose: opts.Verbose,
		Native:  opts.Native,
		TmpDir:  opts.TmpDir,
		Threads: opts.Threads,
	}
	if cfg.Base == "" {
		cfg.Base = defaultBase
	}
	if cfg.Threads < 1 {
		cfg.Threads = runtime.NumCPU()
	}
	if opts.Semi {
		cfg.Policy = filter.Semi
	}

	switch len(args) {
	case 1:
		cfg.Mode = Direct
		cfg.Alignment = args[0]
	case 3:
		cfg.Mode = Align
		cfg.Reference, cfg.Reads1, cfg.Reads2 = args[0], args[1], args[2]
	default:
		return Config{}, fmt.Errorf("%w: expected 1 alignment file or 3 files (reference, reads 1, reads 2), got %d", ErrUsage, len(args))
	}

	for _, path := range cfg.Inputs() {
		if err := checkInput(path); err != nil {
			return Config{}, err
		}
	}

	if cfg.Mode == Direct && cfg.Keep {
		log.Println("WARNING: --keep has no effect when starting from an alignment file. No BAM will be written.")
		cfg.Keep = false
	}
	return cfg, nil
}

func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrMissingInput, path)
		}
		return fmt.Errorf("%w: %v", ErrMissingInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissingInput, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s is not readable", ErrMissingInput, path)
	}
	return f.Close()
}

// Inputs returns the input paths in command line order.
func (c Config) Inputs() []string {
	if c.Mode == Direct {
		return []string{c.Alignment}
	}
	return []string{c.Reference, c.Reads1, c.Reads2}
}

// Outputs returns every path the run will write.
func (c Config) Outputs() []string {
	out := []string{c.R1(), c.R2()}
	if c.Keep {
		out = append(out, c.Bam())
	}
	return out
}

func (c Config) R1() string  { return c.Base + "_R1.fastq.gz" }
func (c Config) R2() string  { return c.Base + "_R2.fastq.gz" }
func (c Config) Bam() string { return c.Base + ".bam" }

// RequiredTools lists the executables the run needs on PATH.
func (c Config) RequiredTools() []tools.Tool {
	var req []tools.Tool
	if c.Mode == Align {
		req = append(req, tools.Bowtie2Build, tools.Bowtie2)
	}
	if !c.Native {
		req = append(req, tools.Samtools, tools.Bedtools)
	}
	return req
}
