package bootmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

// backupFile copies original to backupPath and returns a BootConfigEdit
// recording both relative paths and the original file's digest, so a later
// restore can verify it is putting back exactly what it removed.
func backupFile(originalPath, backupPath, relOriginal, relBackup string) (types.BootConfigEdit, error) {
	digest, err := sha256File(originalPath)
	if err != nil {
		return types.BootConfigEdit{}, err
	}

	if err := copyFile(originalPath, backupPath); err != nil {
		return types.BootConfigEdit{}, errs.Wrap(errs.IoError, "failed to back up "+originalPath, err)
	}

	return types.BootConfigEdit{
		OriginalRelPath: relOriginal,
		BackupRelPath:   relBackup,
		BackupDigest:    digest,
	}, nil
}

func sha256File(path string) (types.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Digest{}, errs.Wrap(errs.IoError, "failed to open "+path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return types.Digest{}, errs.Wrap(errs.IoError, "failed to hash "+path, err)
	}
	return types.Digest{Algorithm: "sha256", Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// restoreEdit copies a previously recorded backup back over the original,
// verifying the backup's digest first so a corrupted backup is never
// silently restored, then deletes the backup so a repeated restore is
// idempotent.
func restoreEdit(rootDir string, edit types.BootConfigEdit) error {
	backupPath := rootDir + "/" + edit.BackupRelPath
	originalPath := rootDir + "/" + edit.OriginalRelPath

	got, err := sha256File(backupPath)
	if err != nil {
		return err
	}
	if got.Hex != edit.BackupDigest.Hex {
		return errs.New(errs.DigestMismatch, "backup "+backupPath+" no longer matches its recorded digest")
	}

	if err := copyFile(backupPath, originalPath); err != nil {
		return errs.Wrap(errs.IoError, "failed to restore "+originalPath, err)
	}

	if err := os.Remove(backupPath); err != nil {
		return errs.Wrap(errs.IoError, "failed to remove backup "+backupPath, err)
	}
	return nil
}

// restoreAll replays backups in reverse order of application, continuing
// past individual failures so a best-effort restore always attempts every
// entry; it reports whether every entry was successfully reverted.
func restoreAll(rootDir string, backups []types.BootConfigEdit) (bool, error) {
	var errList []error
	for i := len(backups) - 1; i >= 0; i-- {
		if err := restoreEdit(rootDir, backups[i]); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return false, errors.Join(errList...)
	}
	return true, nil
}

// removeIfExists deletes path, tolerating it already being gone (e.g. a
// repeated restore).
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, "failed to remove "+path, err)
	}
	return nil
}

// restoredSet returns the set of OriginalRelPath values a restoreAll call
// reverted, so a variant's Restore doesn't also delete a file that was
// just restored from its own backup.
func restoredSet(backups []types.BootConfigEdit) map[string]bool {
	m := make(map[string]bool, len(backups))
	for _, b := range backups {
		m[b.OriginalRelPath] = true
	}
	return m
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}
