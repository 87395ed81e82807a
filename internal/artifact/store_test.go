package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "artifacts"), opts...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestAllocateTextFileWritesContent(t *testing.T) {
	s := newTestStore(t)
	path, err := s.AllocateTextFile("héllo wörld")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	if filepath.Dir(path) != s.Dir() {
		t.Fatalf("path %q not under %q", path, s.Dir())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(b) != "héllo wörld" {
		t.Fatalf("content = %q", string(b))
	}
}

func TestAllocatedPathsAreUnique(t *testing.T) {
	s := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		text, err := s.AllocateTextFile("x")
		if err != nil {
			t.Fatalf("AllocateTextFile() error = %v", err)
		}
		audio := s.AllocateAudioPath()
		for _, p := range []string{text, audio} {
			if seen[p] {
				t.Fatalf("duplicate path %q", p)
			}
			seen[p] = true
		}
	}
}

func TestAllocateAudioPathDoesNotCreateFile(t *testing.T) {
	s := newTestStore(t)
	path := s.AllocateAudioPath()
	if !strings.HasSuffix(path, ".wav") {
		t.Fatalf("audio path %q missing .wav suffix", path)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat() error = %v, want not exist", err)
	}
}

func TestAllocateTextFileFailsWhenDirMissing(t *testing.T) {
	s := newTestStore(t)
	if err := os.RemoveAll(s.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	_, err := s.AllocateTextFile("hello")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("AllocateTextFile() error = %v, want ErrIO", err)
	}
}

func TestReleaseMissingFileIsSilent(t *testing.T) {
	var failures int
	s := newTestStore(t, WithReleaseFailureHook(func(string, error) { failures++ }))

	path, err := s.AllocateTextFile("bye")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	s.Release(path)
	s.Release(path)
	s.Release(s.AllocateAudioPath())
	s.Release("")

	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("artifact still present after Release: %v", err)
	}
	if failures != 0 {
		t.Fatalf("failures = %d, want 0", failures)
	}
}

func TestReleaseReportsOtherFailures(t *testing.T) {
	var failed []string
	s := newTestStore(t, WithReleaseFailureHook(func(path string, _ error) { failed = append(failed, path) }))

	// A non-empty directory cannot be removed with os.Remove.
	dir := filepath.Join(s.Dir(), "speech-dir")
	if err := os.MkdirAll(filepath.Join(dir, "child"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s.Release(dir)
	if len(failed) != 1 || failed[0] != dir {
		t.Fatalf("failed = %v, want [%s]", failed, dir)
	}
}

func TestReadMissingKeepsNotExist(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read(s.AllocateAudioPath())
	if !errors.Is(err, fs.ErrNotExist) || !errors.Is(err, ErrIO) {
		t.Fatalf("Read() error = %v, want ErrIO wrapping fs.ErrNotExist", err)
	}
}

func TestSweepRemovesOnlyStaleArtifacts(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.AllocateTextFile("old")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	fresh, err := s.AllocateTextFile("new")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	foreign := filepath.Join(s.Dir(), "keep-me.txt")
	if err := os.WriteFile(foreign, []byte("x"), 0o600); err != nil {
		t.Fatalf("write foreign: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	for _, p := range []string{stale, foreign} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	n, err := s.Sweep(10 * time.Minute)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, err := os.Stat(stale); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("stale artifact still present")
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed unexpectedly: %v", p, err)
		}
	}
}

func TestReleaseAllLeavesOtherStoresArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shared")
	mine, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	theirs, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	own, err := mine.AllocateTextFile("mine")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	ownAudio := mine.AllocateAudioPath()
	if err := os.WriteFile(ownAudio, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	foreign, err := theirs.AllocateTextFile("theirs")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}

	if left := mine.ReleaseAll(); left != 0 {
		t.Fatalf("ReleaseAll() left %d outstanding", left)
	}
	for _, p := range []string{own, ownAudio} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed, stat err = %v", p, err)
		}
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("other store's artifact was removed: %v", err)
	}
	if theirs.Outstanding() != 1 {
		t.Fatalf("theirs.Outstanding() = %d, want 1", theirs.Outstanding())
	}
}

func TestReleaseForgetsPath(t *testing.T) {
	s := newTestStore(t)
	path, err := s.AllocateTextFile("x")
	if err != nil {
		t.Fatalf("AllocateTextFile() error = %v", err)
	}
	audio := s.AllocateAudioPath()
	if s.Outstanding() != 2 {
		t.Fatalf("Outstanding() = %d, want 2", s.Outstanding())
	}
	s.Release(path)
	s.Release(audio)
	if s.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d, want 0", s.Outstanding())
	}
}
