package extract

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/vertgenlab/gonomics/dna"
	"github.com/vertgenlab/gonomics/sam"
)

func newRead(name string, flag uint16, seq, qual string) sam.Sam {
	return sam.Sam{
		QName: name,
		Flag:  flag,
		RName: "*",
		RNext: "*",
		Seq:   dna.StringToBases(seq),
		Qual:  qual,
	}
}

func pairAll(reads []sam.Sam, r1, r2 io.Writer) (Counts, error) {
	p := NewPairer(r1, r2)
	for i := range reads {
		if err := p.Add(reads[i]); err != nil {
			return p.Close(), err
		}
	}
	return p.Close(), nil
}

func TestExtract(t *testing.T) {
	reads := []sam.Sam{
		newRead("pairA", 77, "ACGT", "ABCD"),
		newRead("pairA", 141, "TTGA", "EFGH"),
		newRead("orphan", 77, "GGGG", "IIII"),
		newRead("pairB", 141, "CCAA", "2345"), // read 2 arrives first
		newRead("pairB", 77, "AAAC", "6789"),
	}
	var r1, r2 bytes.Buffer
	counts, err := pairAll(reads, &r1, &r2)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Pairs != 2 || counts.Orphans != 1 || counts.Skipped != 0 {
		t.Errorf("problem with counts: %+v", counts)
	}

	expR1 := "@pairA\nACGT\n+\nABCD\n@pairB\nAAAC\n+\n6789\n"
	expR2 := "@pairA\nTTGA\n+\nEFGH\n@pairB\nCCAA\n+\n2345\n"
	if r1.String() != expR1 {
		t.Errorf("problem with R1 output:\n%s\nexpected:\n%s", r1.String(), expR1)
	}
	if r2.String() != expR2 {
		t.Errorf("problem with R2 output:\n%s\nexpected:\n%s", r2.String(), expR2)
	}
}

func TestExtractReverseStrand(t *testing.T) {
	reads := []sam.Sam{
		newRead("rc", 89, "AACG", "ABCD"), // paired, mate unmapped, reverse, read1
		newRead("rc", 165, "GGTA", "WXYZ"), // paired, unmapped, mate reverse, read2
	}
	var r1, r2 bytes.Buffer
	counts, err := pairAll(reads, &r1, &r2)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Pairs != 1 {
		t.Errorf("expected 1 pair, got %d", counts.Pairs)
	}
	if r1.String() != "@rc\nCGTT\n+\nDCBA\n" {
		t.Errorf("problem with reverse complement of read 1: %q", r1.String())
	}
	if r2.String() != "@rc\nGGTA\n+\nWXYZ\n" {
		t.Errorf("read 2 should be untouched: %q", r2.String())
	}
}

func TestExtractSkipsSecondary(t *testing.T) {
	reads := []sam.Sam{
		newRead("x", 77, "ACGT", "IIII"),
		newRead("x", 77|256, "ACGT", "IIII"),
		newRead("x", 77|2048, "ACGT", "IIII"),
		newRead("x", 141, "TTTT", "IIII"),
	}
	var r1, r2 bytes.Buffer
	counts, err := pairAll(reads, &r1, &r2)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Pairs != 1 || counts.Skipped != 2 || counts.Orphans != 0 {
		t.Errorf("problem with counts: %+v", counts)
	}
}

func TestExtractMissingQuality(t *testing.T) {
	reads := []sam.Sam{
		newRead("q", 77, "ACGT", "*"),
		newRead("q", 141, "ACGT", "*"),
	}
	var r1, r2 bytes.Buffer
	if _, err := pairAll(reads, &r1, &r2); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(r1.String(), "+\n!!!!\n") {
		t.Errorf("missing qualities should be written as zero: %q", r1.String())
	}
}

func TestPairingInvariant(t *testing.T) {
	var reads []sam.Sam
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, n := range names {
		reads = append(reads, newRead(n, 77, "ACGT", "IIII"))
		if i%2 == 0 { // only every other read has its mate present
			reads = append(reads, newRead(n, 141, "TGCA", "IIII"))
		}
	}
	var r1, r2 bytes.Buffer
	counts, err := pairAll(reads, &r1, &r2)
	if err != nil {
		t.Fatal(err)
	}
	l1 := strings.Split(strings.TrimSpace(r1.String()), "\n")
	l2 := strings.Split(strings.TrimSpace(r2.String()), "\n")
	if len(l1) != len(l2) || len(l1) != 4*counts.Pairs || counts.Pairs != 3 {
		t.Fatalf("unequal outputs: %d and %d lines for %d pairs", len(l1), len(l2), counts.Pairs)
	}
	for i := 0; i < len(l1); i += 4 {
		if l1[i] != l2[i] {
			t.Errorf("pair %d out of order: %s vs %s", i/4, l1[i], l2[i])
		}
	}
}
