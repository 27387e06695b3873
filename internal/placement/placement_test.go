package placement

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type layout struct {
	source, output, backup string
}

func newLayout(t *testing.T) layout {
	t.Helper()
	root := t.TempDir()
	l := layout{
		source: filepath.Join(root, "img"),
		output: filepath.Join(root, "img_compressed"),
		backup: filepath.Join(root, "img_original"),
	}
	for dir, file := range map[string]string{l.source: "a.png", l.output: "a.jpg"} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, file), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSwap(t *testing.T) {
	l := newLayout(t)

	if err := NewSwapper(quietLogger()).Swap(l.source, l.output, l.backup); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	if !exists(filepath.Join(l.source, "a.jpg")) {
		t.Error("compressed file not found under the source name")
	}
	if !exists(filepath.Join(l.backup, "a.png")) {
		t.Error("original not found in the backup directory")
	}
	if exists(l.output) {
		t.Error("output directory still exists")
	}
}

func TestSwap_BackupExists(t *testing.T) {
	l := newLayout(t)
	if err := os.Mkdir(l.backup, 0755); err != nil {
		t.Fatal(err)
	}

	err := NewSwapper(quietLogger()).Swap(l.source, l.output, l.backup)
	if !errors.Is(err, ErrBackupExists) {
		t.Fatalf("Swap() error = %v, want ErrBackupExists", err)
	}
	if !exists(filepath.Join(l.source, "a.png")) || !exists(filepath.Join(l.output, "a.jpg")) {
		t.Error("directories were touched although the swap was refused")
	}
}

func TestSwap_MissingOutput(t *testing.T) {
	l := newLayout(t)
	if err := os.RemoveAll(l.output); err != nil {
		t.Fatal(err)
	}

	if err := NewSwapper(quietLogger()).Swap(l.source, l.output, l.backup); err == nil {
		t.Fatal("Swap() succeeded without an output directory")
	}
	if !exists(filepath.Join(l.source, "a.png")) {
		t.Error("source moved although the output is missing")
	}
}

func TestSwap_SecondRenameFails(t *testing.T) {
	l := newLayout(t)
	s := NewSwapper(quietLogger())
	calls := 0
	s.rename = func(oldpath, newpath string) error {
		calls++
		if calls == 2 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
		}
		return os.Rename(oldpath, newpath)
	}

	err := s.Swap(l.source, l.output, l.backup)
	if !errors.Is(err, ErrSwapIncomplete) {
		t.Fatalf("Swap() error = %v, want ErrSwapIncomplete", err)
	}
	if exists(l.source) {
		t.Error("source name exists after a half swap")
	}
	if !exists(filepath.Join(l.backup, "a.png")) || !exists(filepath.Join(l.output, "a.jpg")) {
		t.Error("backup or output lost after a half swap")
	}
}
