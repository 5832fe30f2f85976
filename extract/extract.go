package extract

import (
	"io"

	hts "github.com/biogo/hts/sam"
	"github.com/vertgenlab/gonomics/dna"
	"github.com/vertgenlab/gonomics/fastq"
	"github.com/vertgenlab/gonomics/sam"
)

// Counts summarizes a conversion from alignment records to paired FASTQ.
type Counts struct {
	Pairs   int // read pairs written to both outputs
	Orphans int // records dropped because their mate was never seen
	Skipped int // secondary and supplementary records
}

// Pairer matches mates by read name and writes each completed pair to r1 and r2.
// Mates do not need to be adjacent in the input, but the output order follows
// the order in which pairs are completed.
type Pairer struct {
	r1, r2  io.Writer
	pending map[string]pendingRead
	counts  Counts
}

type pendingRead struct {
	fq    fastq.Fastq
	first bool
}

// NewPairer returns a Pairer writing read 1 records to r1 and read 2 records to r2.
func NewPairer(r1, r2 io.Writer) *Pairer {
	return &Pairer{r1: r1, r2: r2, pending: make(map[string]pendingRead)}
}

// Add consumes one alignment record. Records are copied so the caller may reuse s.
func (p *Pairer) Add(s sam.Sam) error {
	flags := hts.Flags(s.Flag)
	if flags&(hts.Secondary|hts.Supplementary) != 0 {
		p.counts.Skipped++
		return nil
	}

	curr := pendingRead{fq: samToFastq(s), first: flags&hts.Read1 != 0}
	mate, found := p.pending[s.QName]
	if !found {
		p.pending[s.QName] = curr
		return nil
	}
	delete(p.pending, s.QName)

	fwd, rev := mate, curr
	if curr.first && !mate.first {
		fwd, rev = curr, mate
	}
	if err := writeFastq(p.r1, fwd.fq); err != nil {
		return err
	}
	if err := writeFastq(p.r2, rev.fq); err != nil {
		return err
	}
	p.counts.Pairs++
	return nil
}

// Close drops any records still waiting on a mate and returns the final counts.
func (p *Pairer) Close() Counts {
	p.counts.Orphans += len(p.pending)
	p.pending = make(map[string]pendingRead)
	return p.counts
}

// samToFastq recovers the read as sequenced, undoing the reverse complement
// applied to reads aligned to the minus strand. A missing quality string
// becomes all zero scores.
func samToFastq(s sam.Sam) fastq.Fastq {
	fq := fastq.Fastq{
		Name: s.QName,
		Seq:  make([]dna.Base, len(s.Seq)),
		Qual: make([]uint8, len(s.Seq)),
	}
	copy(fq.Seq, s.Seq)
	if len(s.Qual) == len(s.Seq) {
		fq.Qual = fastq.ToQual([]byte(s.Qual))
	}
	if hts.Flags(s.Flag)&hts.Reverse != 0 {
		fastq.ReverseComplement(fq)
	}
	return fq
}

func writeFastq(w io.Writer, fq fastq.Fastq) error {
	_, err := io.WriteString(w, fq.String())
	return err
}
