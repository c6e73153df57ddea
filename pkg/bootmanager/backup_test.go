package bootmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readTempFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(data)
}

func TestBackupFileAndRestoreEdit(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "config.txt", "original content\n")

	edit, err := backupFile(
		filepath.Join(dir, "config.txt"), filepath.Join(dir, "config.txt.orig"),
		"config.txt", "config.txt.orig",
	)
	if err != nil {
		t.Fatalf("backupFile: %v", err)
	}

	writeTempFile(t, dir, "config.txt", "mutated content\n")

	if err := restoreEdit(dir, edit); err != nil {
		t.Fatalf("restoreEdit: %v", err)
	}
	if got := readTempFile(t, dir, "config.txt"); got != "original content\n" {
		t.Errorf("original not restored: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.txt.orig")); !os.IsNotExist(err) {
		t.Errorf("backup file should be deleted after restore, stat err = %v", err)
	}
}

func TestRestoreEditRejectsCorruptedBackup(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "config.txt", "original content\n")

	edit, err := backupFile(
		filepath.Join(dir, "config.txt"), filepath.Join(dir, "config.txt.orig"),
		"config.txt", "config.txt.orig",
	)
	if err != nil {
		t.Fatalf("backupFile: %v", err)
	}

	writeTempFile(t, dir, "config.txt.orig", "tampered\n")

	err = restoreEdit(dir, edit)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.Is(err, errs.DigestMismatch) {
		t.Errorf("expected DigestMismatch, got %v", err)
	}
}

func TestRestoreAllReverseOrderAndContinuesOnError(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "a-original\n")
	writeTempFile(t, dir, "b.txt", "b-original\n")

	editA, err := backupFile(filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.txt.orig"), "a.txt", "a.txt.orig")
	if err != nil {
		t.Fatalf("backupFile a: %v", err)
	}
	editB, err := backupFile(filepath.Join(dir, "b.txt"), filepath.Join(dir, "b.txt.orig"), "b.txt", "b.txt.orig")
	if err != nil {
		t.Fatalf("backupFile b: %v", err)
	}

	writeTempFile(t, dir, "a.txt", "a-mutated\n")
	writeTempFile(t, dir, "b.txt", "b-mutated\n")

	// Corrupt b's backup so its restore fails; restoreAll walks the list in
	// reverse, so b's restore runs first, and a's restore must still run
	// and succeed despite b's failure.
	writeTempFile(t, dir, "b.txt.orig", "tampered\n")

	allReverted, err := restoreAll(dir, []types.BootConfigEdit{editA, editB})
	if allReverted {
		t.Error("expected allReverted=false when one entry fails")
	}
	if err == nil {
		t.Fatal("expected a joined error")
	}
	if !errs.Is(err, errs.DigestMismatch) {
		t.Errorf("expected joined error to contain DigestMismatch, got %v", err)
	}
	if got := readTempFile(t, dir, "a.txt"); got != "a-original\n" {
		t.Errorf("a.txt should have been restored despite b.txt failing: %q", got)
	}
}

func TestRestoreAllAllSucceed(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "a-original\n")

	edit, err := backupFile(filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.txt.orig"), "a.txt", "a.txt.orig")
	if err != nil {
		t.Fatalf("backupFile: %v", err)
	}
	writeTempFile(t, dir, "a.txt", "a-mutated\n")

	allReverted, err := restoreAll(dir, []types.BootConfigEdit{edit})
	if err != nil {
		t.Fatalf("restoreAll: %v", err)
	}
	if !allReverted {
		t.Error("expected allReverted=true")
	}
}

func TestRemoveIfExistsToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	if err := removeIfExists(filepath.Join(dir, "nonexistent")); err != nil {
		t.Errorf("removeIfExists on missing file should be nil, got %v", err)
	}

	writeTempFile(t, dir, "present.txt", "x")
	if err := removeIfExists(filepath.Join(dir, "present.txt")); err != nil {
		t.Errorf("removeIfExists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "present.txt")); !os.IsNotExist(err) {
		t.Errorf("file should have been removed")
	}
}

func TestRestoredSet(t *testing.T) {
	backups := []types.BootConfigEdit{
		{OriginalRelPath: "config.txt"},
		{OriginalRelPath: "cmdline.txt"},
	}
	set := restoredSet(backups)
	if !set["config.txt"] || !set["cmdline.txt"] {
		t.Errorf("expected both paths in set, got %v", set)
	}
	if set["other.txt"] {
		t.Errorf("unexpected entry in set")
	}
}
