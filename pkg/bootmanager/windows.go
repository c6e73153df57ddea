package bootmanager

import (
	"context"
	"errors"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/fileassert"
	"github.com/balenamigrate/stage1/pkg/types"
)

const (
	winESPDir        = `EFI\balena`
	winMigKernelName = "balena-kernel.efi"
	winMigInitrdName = "balena-initrd.img"
	winBackupSuffix  = ".balena-orig"
)

// WindowsVolume describes one candidate EFI System Partition found on a
// Windows host.
type WindowsVolume struct {
	DriveLetter string
	VolumeGUID  string
}

// WindowsVolumeQuerier enumerates EFI System Partitions on a Windows host.
// The production implementation shells out to PowerShell's
// Get-Partition/Get-Volume cmdlets; it is abstracted here so the variant's
// logic is host-OS-independent and unit-testable from a Linux build host.
type WindowsVolumeQuerier interface {
	ListESPs(ctx context.Context) ([]WindowsVolume, error)
}

// WindowsBootEntryWriter writes the BCD (Boot Configuration Data) entry
// that chain-loads the migration kernel's EFI stub. Abstracted for the
// same reason as WindowsVolumeQuerier.
type WindowsBootEntryWriter interface {
	AddEntry(ctx context.Context, esp WindowsVolume, kernelPath string, cmdline string) (backupToken string, err error)
	RemoveEntry(ctx context.Context, backupToken string) error
}

// WindowsESPWriter stages files under \EFI\balena\ on the chosen ESP. The
// production implementation shells out to PowerShell's Copy-Item/
// Rename-Item cmdlets against the mounted ESP volume; abstracted here for
// the same reason as WindowsVolumeQuerier.
type WindowsESPWriter interface {
	// StageFile copies srcPath to relPath on esp, first renaming any
	// pre-existing file at relPath to relPath+winBackupSuffix. backedUp
	// reports whether such a rename happened.
	StageFile(ctx context.Context, esp WindowsVolume, relPath, srcPath string) (backedUp bool, err error)
	// RestoreFile reverses StageFile: if backedUp, renames
	// relPath+winBackupSuffix back over relPath; otherwise it deletes
	// relPath outright.
	RestoreFile(ctx context.Context, esp WindowsVolume, relPath string, backedUp bool) error
}

// windowsVariant always installs an EFI boot entry. The device classifier
// selects it for every Windows host, and no step checks the host's boot
// mode before it does.
type windowsVariant struct {
	Querier   WindowsVolumeQuerier
	Writer    WindowsBootEntryWriter
	ESPWriter WindowsESPWriter
}

func (w *windowsVariant) CanMigrate(ctx context.Context, facts types.HostFacts, _ types.DeviceProfile, files Files) error {
	if w.Querier == nil {
		return errs.New(errs.NotImplemented, "no WindowsVolumeQuerier configured for this build")
	}
	esps, err := w.Querier.ListESPs(ctx)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to enumerate EFI system partitions", err)
	}
	if len(esps) == 0 {
		return errs.New(errs.MissingFile, "no EFI system partition found")
	}
	if len(esps) > 1 {
		return errs.New(errs.AmbiguousESP, "more than one EFI system partition found; refusing to guess")
	}
	if err := fileassert.ExpectKind(files.Kernel.Path, types.KindKernelAMD64); err != nil {
		return err
	}
	return fileassert.ExpectKind(files.InitRD.Path, types.KindInitRD)
}

func (w *windowsVariant) Install(ctx context.Context, _ types.HostFacts, _ types.DeviceProfile, files Files, backups *[]types.BootConfigEdit) error {
	if w.ESPWriter == nil {
		return errs.New(errs.NotImplemented, "no WindowsESPWriter configured for this build")
	}

	esps, err := w.Querier.ListESPs(ctx)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to enumerate EFI system partitions", err)
	}
	if len(esps) != 1 {
		return errs.New(errs.AmbiguousESP, "EFI system partition count changed since can_migrate")
	}
	esp := esps[0]

	kernelRel := winESPDir + `\` + winMigKernelName
	backedUp, err := w.ESPWriter.StageFile(ctx, esp, kernelRel, files.Kernel.Path)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to stage kernel to "+kernelRel, err)
	}
	*backups = append(*backups, espEdit(kernelRel, backedUp))

	initrdRel := winESPDir + `\` + winMigInitrdName
	backedUp, err = w.ESPWriter.StageFile(ctx, esp, initrdRel, files.InitRD.Path)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to stage initrd to "+initrdRel, err)
	}
	*backups = append(*backups, espEdit(initrdRel, backedUp))

	cmdline := "root=" + files.RootDeviceCmd + " rootfstype=" + files.RootFSType
	if files.KernelOpts != "" {
		cmdline += " " + files.KernelOpts
	}

	token, err := w.Writer.AddEntry(ctx, esp, kernelRel, cmdline)
	if err != nil {
		return errs.Wrap(errs.ExternalCommandFailed, "failed to add BCD boot entry", err)
	}

	*backups = append(*backups, types.BootConfigEdit{
		OriginalRelPath: "BCD",
		BackupRelPath:   token,
	})
	return nil
}

// espEdit records a staged ESP file as a BootConfigEdit: BackupRelPath
// carries the rename-backup suffix marker when a pre-existing file was
// backed up, and is empty when the file was newly staged.
func espEdit(relPath string, backedUp bool) types.BootConfigEdit {
	edit := types.BootConfigEdit{OriginalRelPath: relPath}
	if backedUp {
		edit.BackupRelPath = relPath + winBackupSuffix
	}
	return edit
}

func (w *windowsVariant) Restore(ctx context.Context, _ types.DeviceProfile, backups []types.BootConfigEdit) (bool, error) {
	var esp WindowsVolume
	if w.Querier != nil {
		if esps, err := w.Querier.ListESPs(ctx); err == nil && len(esps) == 1 {
			esp = esps[0]
		}
	}

	var errList []error
	for i := len(backups) - 1; i >= 0; i-- {
		edit := backups[i]
		if edit.OriginalRelPath == "BCD" {
			if err := w.Writer.RemoveEntry(ctx, edit.BackupRelPath); err != nil {
				errList = append(errList, errs.Wrap(errs.RestoreIncomplete, "failed to remove BCD boot entry", err))
			}
			continue
		}
		if w.ESPWriter == nil || esp == (WindowsVolume{}) {
			errList = append(errList, errs.New(errs.RestoreIncomplete, "cannot restore staged ESP file "+edit.OriginalRelPath+": no ESP available"))
			continue
		}
		backedUp := edit.BackupRelPath != ""
		if err := w.ESPWriter.RestoreFile(ctx, esp, edit.OriginalRelPath, backedUp); err != nil {
			errList = append(errList, errs.Wrap(errs.RestoreIncomplete, "failed to restore "+edit.OriginalRelPath, err))
		}
	}

	if len(errList) > 0 {
		return false, errors.Join(errList...)
	}
	return true, nil
}
