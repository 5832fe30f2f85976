// Package report summarizes the read pairs written by a run.
package report

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/vertgenlab/gonomics/fastq"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the extracted read pairs.
type Summary struct {
	Pairs      int
	MeanLength float64 // over both reads of every pair
	StdLength  float64
	lengths    []float64
}

// FromFastq reads paired FASTQ files and summarizes them.
func FromFastq(r1, r2 string) Summary {
	pairs := make(chan fastq.PairedEnd, 1000)
	go fastq.PairedEndToChan(r1, r2, pairs)

	var lengths []float64
	for p := range pairs {
		lengths = append(lengths, float64(len(p.Fwd.Seq)), float64(len(p.Rev.Seq)))
	}
	return Summarize(lengths)
}

// Summarize computes a Summary from the lengths of paired reads, two entries per pair.
func Summarize(lengths []float64) Summary {
	s := Summary{Pairs: len(lengths) / 2, lengths: lengths}
	if len(lengths) > 0 {
		s.MeanLength, s.StdLength = stat.MeanStdDev(lengths, nil)
	}
	return s
}

// String formats the summary as a single log line.
func (s Summary) String() string {
	return fmt.Sprintf("extracted %d read pairs (read length %.1f ± %.1f)", s.Pairs, s.MeanLength, s.StdLength)
}

// Histogram plots the read length distribution. Returns an empty string when
// there is nothing to plot.
func (s Summary) Histogram() string {
	if len(s.lengths) == 0 {
		return ""
	}
	var maxLen int
	for _, l := range s.lengths {
		if int(l) > maxLen {
			maxLen = int(l)
		}
	}
	counts := make([]float64, maxLen+1)
	for _, l := range s.lengths {
		counts[int(l)]++
	}
	if len(counts) < 2 { // asciigraph needs at least two points to draw a line
		counts = append(counts, 0)
	}
	plot := asciigraph.Plot(counts, asciigraph.Height(10), asciigraph.Precision(0), asciigraph.Caption("read length"))
	return strings.TrimRight(plot, "\n")
}
