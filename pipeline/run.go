package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	hts "github.com/biogo/hts/sam"
	"github.com/dasnellings/getUnmapped/extract"
	"github.com/dasnellings/getUnmapped/report"
	"github.com/dasnellings/getUnmapped/stage"
	"github.com/dasnellings/getUnmapped/tools"
	"github.com/vertgenlab/gonomics/fileio"
	"github.com/vertgenlab/gonomics/sam"
)

// bowtie2 and some downstream tools require a read group even though it carries no information here
const readGroup = "unmapped"

// names of staged files inside the working area
const (
	stagedReference = "reference.fa"
	stagedReads1    = "reads_1.fq"
	stagedReads2    = "reads_2.fq"
	indexPrefix     = "reference"
	alignedSam      = "aligned.sam"
	alignedBam      = "aligned.bam"
	filteredBam     = "filtered.bam"
	stagedR1        = "R1.fq"
	stagedR2        = "R2.fq"
)

type run struct {
	cfg   Config
	state State
	wd    *stage.Workdir

	reference, reads1, reads2 string
	counts                    extract.Counts
}

// Run executes the whole pipeline described by cfg. Outputs and required
// tools are checked before the working area is created, and the working area
// is removed on every return path.
func Run(ctx context.Context, cfg Config) (err error) {
	r := &run{cfg: cfg, reference: cfg.Reference, reads1: cfg.Reads1, reads2: cfg.Reads2}
	defer func() {
		if err != nil && !IsTerminal(r.state) {
			r.state = Aborted
			r.logf("run aborted")
		}
	}()

	if err = r.advance(InputResolved); err != nil {
		return err
	}
	for _, out := range cfg.Outputs() {
		if err = stage.CheckOutput(out, cfg.Force); err != nil {
			return err
		}
	}
	if err = tools.Require(cfg.RequiredTools()...); err != nil {
		return err
	}

	if r.wd, err = stage.NewWorkdir(cfg.TmpDir); err != nil {
		return err
	}
	defer func() {
		if rmErr := r.wd.Remove(); rmErr != nil && err == nil {
			err = fmt.Errorf("removing working area: %w", rmErr)
		}
	}()
	r.logf("working area: %s", r.wd.Dir())

	if cfg.Mode == Align {
		if err = r.buildIndex(ctx); err != nil {
			return err
		}
	}

	if cfg.Native {
		err = r.extractNative(ctx)
	} else {
		err = r.extractExternal(ctx)
	}
	if err != nil {
		return err
	}

	if cfg.Verbose {
		r.summarize()
	}
	return r.finalize()
}

func (r *run) advance(to State) error {
	if err := transition(r.state, to); err != nil {
		return err
	}
	r.state = to
	r.logf("stage: %s", to)
	return nil
}

func (r *run) logf(format string, v ...interface{}) {
	if r.cfg.Verbose {
		log.Printf(format, v...)
	}
}

// buildIndex decompresses the inputs if needed and indexes the reference.
func (r *run) buildIndex(ctx context.Context) error {
	var err error
	var expanded bool
	staged := []struct {
		path *string
		name string
	}{
		{&r.reference, stagedReference},
		{&r.reads1, stagedReads1},
		{&r.reads2, stagedReads2},
	}
	for _, s := range staged {
		src := *s.path
		if *s.path, expanded, err = stage.Decompress(src, r.wd.Path(s.name)); err != nil {
			return err
		}
		if expanded {
			r.logf("decompressed %s", src)
		}
	}

	step := tools.Step{
		Tool:  tools.Bowtie2Build,
		Args:  []string{"--threads", strconv.Itoa(r.cfg.Threads), r.reference, r.wd.Path(indexPrefix)},
		Quiet: !r.cfg.Verbose,
	}
	if r.cfg.Verbose {
		step.Stderr = os.Stderr
	}
	r.logf("indexing reference: %s", step)
	_, err = tools.Run(ctx, step)
	return err
}

func (r *run) alignStep(stdout io.Writer) tools.Step {
	step := tools.Step{
		Tool: tools.Bowtie2,
		Args: []string{
			"-p", strconv.Itoa(r.cfg.Threads),
			"--rg-id", readGroup,
			"--rg", "SM:" + readGroup,
			"-x", r.wd.Path(indexPrefix),
			"-1", r.reads1,
			"-2", r.reads2,
		},
		Stdout: stdout,
	}
	if r.cfg.Verbose {
		step.Stderr = os.Stderr
	}
	return step
}

// extractExternal filters with samtools and converts with bedtools. In align
// mode the aligner output is piped straight into samtools, and into a second
// samtools capturing the full alignment when it is kept.
func (r *run) extractExternal(ctx context.Context) error {
	var err error
	filtered := r.wd.Path(filteredBam)
	args := []string{"view", "-b"}
	args = append(args, r.cfg.Policy.SamtoolsArgs()...)
	args = append(args, "-o", filtered)

	if r.cfg.Mode == Direct {
		if err = r.advance(Aligned); err != nil {
			return err
		}
		step := tools.Step{Tool: tools.Samtools, Args: append(args, r.cfg.Alignment)}
		r.logf("filtering alignments (%s): %s", r.cfg.Policy, step)
		if _, err = tools.Run(ctx, step); err != nil {
			return err
		}
	} else {
		src := r.alignStep(nil)
		sinks := []tools.Step{{Tool: tools.Samtools, Args: append(args, "-")}}
		if r.cfg.Keep {
			sinks = append(sinks, tools.Step{Tool: tools.Samtools, Args: []string{"view", "-b", "-o", r.wd.Path(alignedBam), "-"}})
		}
		r.logf("aligning reads: %s", src)
		r.logf("filtering alignments (%s): %s", r.cfg.Policy, sinks[0])
		if _, err = tools.Stream(ctx, src, sinks...); err != nil {
			return err
		}
		if err = r.advance(Aligned); err != nil {
			return err
		}
	}
	if err = r.advance(Filtered); err != nil {
		return err
	}

	// bamtofastq warns about every unpaired record, which is expected here
	step := tools.Step{
		Tool:  tools.Bedtools,
		Args:  []string{"bamtofastq", "-i", filtered, "-fq", r.wd.Path(stagedR1), "-fq2", r.wd.Path(stagedR2)},
		Quiet: true,
	}
	r.logf("converting to fastq: %s", step)
	if _, err = tools.Run(ctx, step); err != nil {
		return err
	}
	return r.advance(Converted)
}

// extractNative filters and converts alignments in process. In align mode the
// aligner output is staged as SAM first.
func (r *run) extractNative(ctx context.Context) (err error) {
	// gonomics writers panic on I/O errors
	defer func() {
		if rec := recover(); rec != nil {
			err = nativeErr(fmt.Errorf("%v", rec))
		}
	}()
	input := r.cfg.Alignment
	if r.cfg.Mode == Align {
		input = r.wd.Path(alignedSam)
		var out *os.File
		if out, err = os.Create(input); err != nil {
			return err
		}
		step := r.alignStep(out)
		r.logf("aligning reads: %s", step)
		_, err = tools.Run(ctx, step)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	if err = r.advance(Aligned); err != nil {
		return err
	}

	r.logf("filtering alignments (%s) and converting to fastq", r.cfg.Policy)
	in, err := extract.OpenAlignments(input)
	if err != nil {
		return nativeErr(err)
	}

	var capture *fileio.EasyWriter
	var bw *sam.BamWriter
	if r.cfg.Keep {
		capture = fileio.EasyCreate(r.wd.Path(alignedBam))
		bw = sam.NewBamWriter(capture, in.Header())
	}
	w1 := fileio.EasyCreate(r.wd.Path(stagedR1))
	w2 := fileio.EasyCreate(r.wd.Path(stagedR2))
	pairer := extract.NewPairer(w1, w2)

	var rd sam.Sam
	var ok bool
	for n := 1; err == nil; n++ {
		if rd, ok, err = in.Next(); err != nil || !ok {
			break
		}
		if n%100000 == 0 {
			if err = ctx.Err(); err != nil {
				break
			}
		}
		if bw != nil {
			sam.WriteToBamFileHandle(bw, rd, 0)
		}
		if r.cfg.Policy.Keep(hts.Flags(rd.Flag)) {
			err = pairer.Add(rd)
		}
	}
	r.counts = pairer.Close()

	closeErrs := []error{in.Close()}
	if bw != nil {
		closeErrs = append(closeErrs, bw.Close(), capture.Close())
	}
	closeErrs = append(closeErrs, w1.Close(), w2.Close())
	if err == nil {
		err = errors.Join(closeErrs...)
	}
	if err != nil {
		return nativeErr(err)
	}

	if err = r.advance(Filtered); err != nil {
		return err
	}
	return r.advance(Converted)
}

// nativeErr classifies a failure of the in-process engine like a failure of
// the tools it stands in for.
func nativeErr(err error) error {
	if errors.Is(err, ErrToolFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrToolFailed, err)
}

func (r *run) summarize() {
	s := report.FromFastq(r.wd.Path(stagedR1), r.wd.Path(stagedR2))
	log.Println(s)
	if r.cfg.Native {
		log.Printf("dropped %d records without a mate and %d secondary or supplementary records", r.counts.Orphans, r.counts.Skipped)
		if h := s.Histogram(); h != "" {
			log.Printf("\n%s", h)
		}
	}
}

// finalize compresses the staged reads into place and keeps the full alignment if requested.
func (r *run) finalize() error {
	r.logf("writing %s and %s", r.cfg.R1(), r.cfg.R2())
	if err := stage.Compress(r.wd.Path(stagedR1), r.cfg.R1(), r.cfg.Threads); err != nil {
		return err
	}
	if err := stage.Compress(r.wd.Path(stagedR2), r.cfg.R2(), r.cfg.Threads); err != nil {
		return err
	}
	if r.cfg.Keep {
		r.logf("writing %s", r.cfg.Bam())
		if err := stage.Place(r.wd.Path(alignedBam), r.cfg.Bam()); err != nil {
			return err
		}
	}
	return r.advance(Finalized)
}
