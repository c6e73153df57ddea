package bootmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/fileassert"
	"github.com/balenamigrate/stage1/pkg/types"
)

const (
	grubMigKernelName = "balena.vmlinuz"
	grubMigInitrdName = "balena.initramfs"
	grubBootDir       = "/boot"
	grubCfgPath       = "/boot/grub/grub.cfg"
	grubMenuTag       = "## balena-migrate menu entry"
)

// grubVariant implements GRUB-EFI and GRUB-BIOS; the two differ only in
// whether grub-install is invoked (EFI systems with an already-functional
// GRUB typically need no reinstall, BIOS systems need the MBR boot code
// rewritten for the new embedded menu entry to even be read).
type grubVariant struct {
	efi bool
}

func (g *grubVariant) CanMigrate(_ context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files) error {
	if _, err := os.Stat(grubCfgPath); err != nil {
		return errs.New(errs.MissingFile, "could not find "+grubCfgPath)
	}
	kind := types.KindKernelAMD64
	if facts.Architecture == types.ArchI386 {
		kind = types.KindKernelI386
	}
	if err := fileassert.ExpectKind(files.Kernel.Path, kind); err != nil {
		return err
	}
	if err := fileassert.ExpectKind(files.InitRD.Path, types.KindInitRD); err != nil {
		return err
	}
	if !g.efi {
		if _, err := exec.LookPath("grub-install"); err != nil {
			return errs.New(errs.MissingCommand, "grub-install is required for GRUB-BIOS but not on PATH")
		}
	}
	return nil
}

func (g *grubVariant) Install(ctx context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files, backups *[]types.BootConfigEdit) error {
	kernelPath := filepath.Join(grubBootDir, grubMigKernelName)
	if err := copyAndVerify(files.Kernel.Path, kernelPath, files.Kernel.Digest); err != nil {
		return err
	}
	initrdPath := filepath.Join(grubBootDir, grubMigInitrdName)
	if err := copyAndVerify(files.InitRD.Path, initrdPath, files.InitRD.Digest); err != nil {
		return err
	}

	if !g.efi {
		if err := g.runGrubInstall(ctx); err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	backupName := fmt.Sprintf("grub.cfg.%d", now)
	backupPath := filepath.Join(filepath.Dir(grubCfgPath), backupName)
	edit, err := backupFile(grubCfgPath, backupPath, "grub/grub.cfg", "grub/"+backupName)
	if err != nil {
		return err
	}
	*backups = append(*backups, edit)

	newCfg, err := prependMenuEntry(grubCfgPath, files)
	if err != nil {
		return err
	}
	if err := os.WriteFile(grubCfgPath, []byte(newCfg), 0o644); err != nil {
		return errs.Wrap(errs.IoError, "failed to write "+grubCfgPath, err)
	}
	return nil
}

func (g *grubVariant) Restore(_ context.Context, _ types.DeviceProfile, backups []types.BootConfigEdit) (bool, error) {
	allReverted, restoreErr := restoreAll(grubBootDir, backups)

	var errList []error
	if restoreErr != nil {
		errList = append(errList, restoreErr)
	}
	if err := removeIfExists(filepath.Join(grubBootDir, grubMigKernelName)); err != nil {
		errList = append(errList, err)
	}
	if err := removeIfExists(filepath.Join(grubBootDir, grubMigInitrdName)); err != nil {
		errList = append(errList, err)
	}

	if len(errList) > 0 {
		return false, errors.Join(errList...)
	}
	return allReverted, nil
}

func (g *grubVariant) runGrubInstall(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "grub-install", "--recheck")
	if out, err := cmd.CombinedOutput(); err != nil {
		return errs.Wrap(errs.ExternalCommandFailed, "grub-install failed: "+string(out), err)
	}
	return nil
}

// prependMenuEntry reads the existing grub.cfg and inserts a new default
// entry that loads the migration kernel, ahead of the distro's own
// entries, setting default=0 so it boots first.
func prependMenuEntry(path string, files Files) (string, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, "failed to read "+path, err)
	}

	cmdline := fmt.Sprintf("root=UUID=%s rootfstype=%s console=tty0 console=ttyS0,115200",
		files.RootUUID, files.RootFSType)
	if files.KernelOpts != "" {
		cmdline += " " + files.KernelOpts
	}

	entry := fmt.Sprintf(`%s
set default=0

menuentry "balena-migrate" {
    linux /%s %s
    initrd /%s
}

`, grubMenuTag, grubMigKernelName, cmdline, grubMigInitrdName)

	return entry + string(existing), nil
}
