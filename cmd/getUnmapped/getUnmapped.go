package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dasnellings/getUnmapped/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

const version string = "0.1.0"
const gonomicsVersion string = "1.0.1-0.20240426183757-e6c6ab634c20"

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func usageHeader() string {
	return "Program: getUnmapped (extract read pairs that do not align to a reference)\n" +
		"Version: " + version + " (gonomics " + gonomicsVersion + ")\n\n" +
		"Aligns paired reads with bowtie2 (or reads an existing alignment), selects unmapped\n" +
		"records with samtools, and converts them to gzipped paired FASTQ with bedtools.\n" +
		"bowtie2, bowtie2-build, samtools, and bedtools must be on PATH (samtools and bedtools\n" +
		"are not needed with --native)."
}

func newCommand(stderr io.Writer) *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use: "getUnmapped [options] reference.fa reads_R1.fq.gz reads_R2.fq.gz\n" +
			"  getUnmapped [options] alignment.bam",
		Short:   "extract unmapped read pairs",
		Long:    usageHeader(),
		Version: version,
		Example: "  getUnmapped -b sample ref.fa.gz sample_R1.fq.gz sample_R2.fq.gz\n" +
			"  getUnmapped --semi -b sample sample.bam",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("%w: expected 1 alignment file or 3 files (reference, reads 1, reads 2), got %d", pipeline.ErrUsage, len(args))
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pipeline.Resolve(args, opts)
			if err != nil {
				return err
			}
			return pipeline.Run(cmd.Context(), cfg)
		},
	}
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", pipeline.ErrUsage, err)
	})

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringVarP(&opts.Base, "base", "b", "./unmapped", "Output base path. Writes {base}_R1.fastq.gz, {base}_R2.fastq.gz, and with --keep {base}.bam.")
	flags.BoolVarP(&opts.Semi, "semi", "s", false, "Keep reads that are not part of a concordant pair instead of only pairs where both reads are unmapped.")
	flags.BoolVarP(&opts.Keep, "keep", "k", false, "Keep the full, unfiltered alignment as {base}.bam. Ignored when starting from an alignment file.")
	flags.BoolVarP(&opts.Force, "force", "f", false, "Overwrite existing output files.")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Report progress of each stage.")
	flags.BoolVarP(&opts.Native, "native", "n", false, "Filter and convert alignments in process instead of with samtools and bedtools.")
	flags.StringVarP(&opts.TmpDir, "tmpdir", "t", "", "Directory in which to create the temporary working area. (default system temp directory)")
	return cmd
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newCommand(stderr)
	cmd.SetOut(stdout)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, pipeline.ErrUsage):
		fmt.Fprintf(stderr, "ERROR: %v\nRun 'getUnmapped --help' for usage.\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitFailure
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
