package extract

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/shenwei356/xopen"
	"github.com/vertgenlab/gonomics/fileio"
	"github.com/vertgenlab/gonomics/sam"
)

// ErrMalformed is returned when an alignment file cannot be decoded.
var ErrMalformed = errors.New("malformed alignment file")

const magicBam = "BAM\x01"

// Alignments reads records from a BAM or SAM file. The format is taken from
// the file contents, not its name. Decoding happens on the caller's goroutine
// and failures are returned as errors wrapping ErrMalformed.
type Alignments struct {
	path   string
	header sam.Header

	bam *sam.BamReader

	text *fileio.EasyReader
	src  *strings.Reader
	line *fileio.EasyReader
}

// OpenAlignments opens path for reading and parses its header.
func OpenAlignments(path string) (a *Alignments, err error) {
	isBam, err := sniffBam(path)
	if err != nil {
		return nil, err
	}

	a = &Alignments{path: path}
	defer a.recover(&err)
	if isBam {
		a.bam, a.header = sam.OpenBam(path)
		return a, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a.text = &fileio.EasyReader{File: f, BuffReader: bufio.NewReader(f)}
	a.src = strings.NewReader("")
	a.line = &fileio.EasyReader{BuffReader: bufio.NewReader(a.src)}
	a.header = sam.ReadHeader(a.text)
	return a, nil
}

// Header returns the header of the file.
func (a *Alignments) Header() sam.Header {
	return a.header
}

// Next returns the next record. ok is false once the file is exhausted.
func (a *Alignments) Next() (s sam.Sam, ok bool, err error) {
	defer a.recover(&err)
	if a.bam != nil {
		_, err = sam.DecodeBam(a.bam, &s)
		switch {
		case err == io.EOF:
			return sam.Sam{}, false, nil
		case err != nil && !errors.Is(err, sam.ErrNonStdBase):
			return sam.Sam{}, false, fmt.Errorf("%w: %s: %v", ErrMalformed, a.path, err)
		}
		return s, true, nil
	}

	var line string
	var done bool
	for line, done = fileio.EasyNextLine(a.text); !done && (line == "" || line[0] == '@'); line, done = fileio.EasyNextLine(a.text) {
	}
	if done {
		return sam.Sam{}, false, nil
	}
	if err = checkSamLine(line); err != nil {
		return sam.Sam{}, false, fmt.Errorf("%w: %s: %v", ErrMalformed, a.path, err)
	}
	a.src.Reset(line + "\n")
	a.line.BuffReader.Reset(a.src)
	s, _ = sam.ReadNext(a.line)
	return s, true, nil
}

// Close releases the underlying file.
func (a *Alignments) Close() (err error) {
	defer a.recover(&err)
	if a.bam != nil {
		return a.bam.Close()
	}
	return a.text.File.Close()
}

// recover converts a panic raised while decoding into an error.
func (a *Alignments) recover(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrMalformed, a.path, r)
	}
}

// sniffBam reports whether path holds BAM data. Compressed files that do not
// decompress to the BAM magic number are rejected.
func sniffBam(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	gz, err := xopen.IsGzip(br)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if !gz {
		return false, nil
	}

	zr, err := pgzip.NewReader(br)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	defer zr.Close()
	zr.Multistream(false)
	magic := make([]byte, len(magicBam))
	if _, err = io.ReadFull(zr, magic); err != nil || string(magic) != magicBam {
		return false, fmt.Errorf("%w: %s is compressed but does not contain BAM data", ErrMalformed, path)
	}
	return true, nil
}

// checkSamLine verifies the mandatory columns of a SAM record.
func checkSamLine(line string) error {
	words := strings.SplitN(line, "\t", 12)
	if len(words) < 11 {
		return fmt.Errorf("expected at least 11 columns, found %d: %.60q", len(words), line)
	}
	for _, col := range []struct {
		idx  int
		bits int
	}{{1, 16}, {3, 32}, {4, 8}, {7, 32}} {
		if _, err := strconv.ParseUint(words[col.idx], 10, col.bits); err != nil {
			return fmt.Errorf("column %d of read %s: %w", col.idx+1, words[0], err)
		}
	}
	if _, err := strconv.ParseInt(words[8], 10, 32); err != nil {
		return fmt.Errorf("column 9 of read %s: %w", words[0], err)
	}
	return nil
}
