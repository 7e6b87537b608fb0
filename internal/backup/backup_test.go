// SPDX-License-Identifier: MPL-2.0

package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/melonup/melonup/internal/clock"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestReplace_BacksUpExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(filepath.Join(root, "Backups"), clock.NewFake(time.Time{}))
	dst := filepath.Join(root, "Mods", "Cool.so")
	src := filepath.Join(root, "tmp", "Cool.so")
	writeFile(t, dst, "old")
	writeFile(t, src, "new")

	backupPath, err := store.Replace(src, dst)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	if got := readFile(t, dst); got != "new" {
		t.Errorf("destination = %q, want new", got)
	}
	if got := filepath.Base(backupPath); got != "Cool_20240309-140507123.so" {
		t.Errorf("backup name = %q", got)
	}
	if got := readFile(t, backupPath); got != "old" {
		t.Errorf("backup content = %q, want old", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still present after Replace")
	}

	entries, err := os.ReadDir(store.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("backup dir has %d entries, want exactly 1", len(entries))
	}
}

func TestReplace_NoExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(filepath.Join(root, "Backups"), nil)
	src := filepath.Join(root, "new.txt")
	dst := filepath.Join(root, "UserData", "deep", "new.txt")
	writeFile(t, src, "data")

	backupPath, err := store.Replace(src, dst)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if backupPath != "" {
		t.Errorf("backupPath = %q, want empty", backupPath)
	}
	if got := readFile(t, dst); got != "data" {
		t.Errorf("destination = %q", got)
	}
	if _, err := os.Stat(store.Dir); !os.IsNotExist(err) {
		t.Error("backup dir created without a backup")
	}
}

func TestReplace_CollisionCounter(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(filepath.Join(root, "Backups"), clock.NewFake(time.Time{}))
	dst := filepath.Join(root, "a.cfg")

	var backups []string
	for i, content := range []string{"v1", "v2", "v3"} {
		writeFile(t, dst, content)
		src := filepath.Join(root, "next.cfg")
		writeFile(t, src, content+"+")
		if i == 0 {
			continue
		}
		b, err := store.Replace(src, dst)
		if err != nil {
			t.Fatalf("Replace() #%d error = %v", i, err)
		}
		backups = append(backups, b)
	}

	if backups[0] == backups[1] {
		t.Fatalf("backups collided: %s", backups[0])
	}
	if !strings.HasSuffix(backups[1], "_1.cfg") {
		t.Errorf("second backup = %s, want counter suffix", backups[1])
	}
}

func TestReplace_RestoresOnFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(filepath.Join(root, "Backups"), nil)
	dst := filepath.Join(root, "Cool.so")
	writeFile(t, dst, "old")

	_, err := store.Replace(filepath.Join(root, "missing.so"), dst)
	if err == nil {
		t.Fatal("Replace() with missing source succeeded")
	}
	if got := readFile(t, dst); got != "old" {
		t.Errorf("destination = %q after failed replace, want old", got)
	}
}

func TestRetire(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(filepath.Join(root, "Backups"), clock.NewFake(time.Time{}))
	path := filepath.Join(root, "Old Name.so")
	writeFile(t, path, "x")

	moved, err := store.Retire(path)
	if err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if filepath.Dir(moved) != store.Dir || !strings.HasPrefix(filepath.Base(moved), "Old Name_") {
		t.Errorf("Retire() = %s", moved)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original still present after Retire")
	}
}
