package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ZeroOneDeveloper/code01-judge/internal/common/storage"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) GetObject(_ context.Context, _, objectKey string) (storage.ObjectReader, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) PutObject(_ context.Context, _, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeStorage) StatObject(_ context.Context, _, objectKey string) (storage.ObjectStat, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return storage.ObjectStat{}, os.ErrNotExist
	}
	sum := sha256.Sum256(data)
	return storage.ObjectStat{
		SizeBytes: int64(len(data)),
		ETag:      hex.EncodeToString(sum[:8]),
	}, nil
}

type fakeLock struct{}

func (fakeLock) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (fakeLock) Unlock(context.Context, string) error                         { return nil }

func writeCase(t *testing.T, dir string, index int, input, answer string) {
	t.Helper()
	name := strconv.Itoa(index)
	if err := os.WriteFile(filepath.Join(dir, name+inputSuffix), []byte(input), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+answerSuffix), []byte(answer), 0644); err != nil {
		t.Fatalf("write answer: %v", err)
	}
}

func TestLoadCasesOrdersByIndex(t *testing.T) {
	dir := t.TempDir()
	// write out of order, with a gap
	writeCase(t, dir, 3, "in-3", "out-3")
	writeCase(t, dir, 0, "in-0", "out-0")
	writeCase(t, dir, 1, "in-1", "out-1")

	cases, err := LoadCases(dir)
	if err != nil {
		t.Fatalf("load cases: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}
	wantInputs := []string{"in-0", "in-1", "in-3"}
	for i, c := range cases {
		if c.Input != wantInputs[i] {
			t.Fatalf("case %d out of order: %q", i, c.Input)
		}
	}
}

func TestLoadCasesIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, 0, "in", "out")
	if err := os.WriteFile(filepath.Join(dir, metaFileName), []byte("{}"), 0644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("notes"), 0644); err != nil {
		t.Fatalf("write extra file: %v", err)
	}

	cases, err := LoadCases(dir)
	if err != nil {
		t.Fatalf("load cases: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}
}

func TestLoadCasesRejectsMissingAnswer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0"+inputSuffix), []byte("in"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if _, err := LoadCases(dir); err == nil {
		t.Fatal("expected error for input without answer")
	}
}

func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer file.Close()

	zw, err := zstd.NewWriter(file)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for name, body := range entries {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
}

func TestExtractDataPack(t *testing.T) {
	src := filepath.Join(t.TempDir(), "pack.tar.zst")
	writeArchive(t, src, map[string]string{
		"0.in":  "1 2\n",
		"0.ans": "3\n",
	})

	dst := t.TempDir()
	if err := extractDataPack(src, dst); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "0.in"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "1 2\n" {
		t.Fatalf("unexpected content: %q", data)
	}

	cases, err := LoadCases(dst)
	if err != nil {
		t.Fatalf("load cases: %v", err)
	}
	if len(cases) != 1 || cases[0].Expected != "3\n" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
}

func archiveBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pack.tar.zst")
	writeArchive(t, path, entries)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	return data
}

func TestGetVerifiesArchiveDigest(t *testing.T) {
	pack := archiveBytes(t, map[string]string{"0.in": "1 2\n", "0.ans": "3\n"})
	st := &fakeStorage{objects: map[string][]byte{"packs/p1.tar.zst": pack}}
	c := NewDataPackCache(t.TempDir(), time.Minute, time.Second, 4, 0, "judge", st, fakeLock{})

	sum := sha256.Sum256(pack)
	dir, err := c.Get(context.Background(), "packs/p1.tar.zst", hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("get with matching digest: %v", err)
	}
	cases, err := LoadCases(dir)
	if err != nil {
		t.Fatalf("load cases: %v", err)
	}
	if len(cases) != 1 || cases[0].Expected != "3\n" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
}

func TestGetRejectsDigestMismatch(t *testing.T) {
	pack := archiveBytes(t, map[string]string{"0.in": "1\n", "0.ans": "1\n"})
	st := &fakeStorage{objects: map[string][]byte{"packs/p1.tar.zst": pack}}
	c := NewDataPackCache(t.TempDir(), time.Minute, time.Second, 4, 0, "judge", st, fakeLock{})

	wrong := hex.EncodeToString(bytes.Repeat([]byte{0}, 32))
	if _, err := c.Get(context.Background(), "packs/p1.tar.zst", wrong); err == nil {
		t.Fatal("expected digest mismatch to be rejected")
	} else if appErr.GetCode(err) != appErr.TestDataCorrupt {
		t.Fatalf("expected TestDataCorrupt, got %v", err)
	}

	// the rejected download must not poison the cache
	sum := sha256.Sum256(pack)
	if _, err := c.Get(context.Background(), "packs/p1.tar.zst", hex.EncodeToString(sum[:])); err != nil {
		t.Fatalf("get after rejected digest: %v", err)
	}
}

func TestGetSkipsDigestWhenAbsent(t *testing.T) {
	pack := archiveBytes(t, map[string]string{"0.in": "1\n", "0.ans": "1\n"})
	st := &fakeStorage{objects: map[string][]byte{"packs/p1.tar.zst": pack}}
	c := NewDataPackCache(t.TempDir(), time.Minute, time.Second, 4, 0, "judge", st, fakeLock{})

	dir, err := c.Get(context.Background(), "packs/p1.tar.zst", "")
	if err != nil {
		t.Fatalf("get without digest: %v", err)
	}

	// a second fetch is served from the extracted tree
	again, err := c.Get(context.Background(), "packs/p1.tar.zst", "")
	if err != nil {
		t.Fatalf("repeated get: %v", err)
	}
	if again != dir {
		t.Fatalf("expected the cached dir %q, got %q", dir, again)
	}
}

func TestExtractDataPackRejectsEscapingPaths(t *testing.T) {
	for name, entry := range map[string]string{
		"dotdot":   "../escape.txt",
		"absolute": "/etc/escape.txt",
	} {
		t.Run(name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "pack.tar.zst")
			writeArchive(t, src, map[string]string{entry: "owned"})
			if err := extractDataPack(src, t.TempDir()); err == nil {
				t.Fatal("expected extraction to reject escaping path")
			}
		})
	}
}
