package stage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
)

func TestWorkdir(t *testing.T) {
	parent := t.TempDir()
	wd, err := NewWorkdir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(wd.Dir()) != parent {
		t.Errorf("working area %s not created under %s", wd.Dir(), parent)
	}
	if err = os.WriteFile(wd.Path("tmp.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err = wd.Remove(); err != nil {
		t.Fatal(err)
	}
	if err = wd.Remove(); err != nil {
		t.Errorf("second remove should be a no-op: %v", err)
	}
	entries, _ := os.ReadDir(parent)
	if len(entries) != 0 {
		t.Errorf("working area was not removed: %v", entries)
	}
}

func TestCompressDecompress(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "reads.fq")
	content := "@r1\nACGT\n+\nIIII\n"
	if err := os.WriteFile(plain, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	path, expanded, err := Decompress(plain, filepath.Join(dir, "unused.fq"))
	if err != nil {
		t.Fatal(err)
	}
	if path != plain || expanded {
		t.Errorf("uncompressed input should be referenced in place, got %s", path)
	}
	if _, err = os.Stat(filepath.Join(dir, "unused.fq")); !errors.Is(err, os.ErrNotExist) {
		t.Error("uncompressed input should not be copied")
	}

	gz := filepath.Join(dir, "reads.fq.gz")
	if err = Compress(plain, gz, 2); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(gz)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(zr)
	f.Close()
	if err != nil || string(got) != content {
		t.Errorf("problem reading compressed output: %q %v", got, err)
	}

	out := filepath.Join(dir, "expanded.fq")
	path, expanded, err = Decompress(gz, out)
	if err != nil {
		t.Fatal(err)
	}
	if path != out || !expanded {
		t.Errorf("compressed input should be expanded to %s, got %s", out, path)
	}
	if got, _ = os.ReadFile(out); string(got) != content {
		t.Errorf("problem with decompressed content: %q", got)
	}
}

func TestIsCompressedShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny")
	if err := os.WriteFile(path, []byte(">"), 0644); err != nil {
		t.Fatal(err)
	}
	compressed, err := IsCompressed(path)
	if err != nil || compressed {
		t.Errorf("one byte file should be uncompressed: %v %v", compressed, err)
	}
}

func TestPlace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bam")
	dst := filepath.Join(dir, "dst.bam")
	if err := os.WriteFile(src, []byte("bam"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Place(src, dst); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "bam" {
		t.Errorf("problem placing file: %q", got)
	}
}

func TestCheckOutput(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.fastq.gz")
	if err := os.WriteFile(existing, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CheckOutput(filepath.Join(dir, "new.fastq.gz"), false); err != nil {
		t.Errorf("new file in writable directory should pass: %v", err)
	}
	if err := CheckOutput(existing, false); !errors.Is(err, ErrConflict) {
		t.Errorf("existing file without force should conflict: %v", err)
	}
	if err := CheckOutput(existing, true); err != nil {
		t.Errorf("existing file with force should pass: %v", err)
	}
	if err := CheckOutput(dir, true); !errors.Is(err, ErrConflict) {
		t.Errorf("directory should never be a valid output: %v", err)
	}
	if err := CheckOutput(filepath.Join(dir, "missing", "out.fastq.gz"), false); !errors.Is(err, ErrConflict) {
		t.Errorf("missing parent directory should conflict: %v", err)
	}
	if got, _ := os.ReadFile(existing); string(got) != "keep me" {
		t.Error("validation must not touch existing files")
	}
}
