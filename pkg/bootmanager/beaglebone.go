package bootmanager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/fileassert"
	"github.com/balenamigrate/stage1/pkg/types"
)

const (
	bbMigKernelName = "balena.zImage"
	bbMigInitrdName = "balena.initramfs.cpio.gz"
	bbUEnvTxt       = "uEnv.txt"
	bbBootPath      = "/boot"
)

var bbUbootLoadLineRe = regexp.MustCompile(`^\s*(uenvcmd|bootfile)\s*=`)

// beagleBoneVariant rewrites uEnv.txt, the U-Boot environment-override
// file BeagleBone's first-stage loader reads, the way config.txt is the
// raspi analog.
type beagleBoneVariant struct{}

func (b *beagleBoneVariant) CanMigrate(_ context.Context, _ types.HostFacts, _ types.DeviceProfile, files Files) error {
	if _, err := os.Stat(bbBootPath); err != nil {
		return errs.New(errs.MissingFile, "the /boot directory required for the BeagleBone boot manager could not be found")
	}
	if err := fileassert.ExpectKind(files.Kernel.Path, types.KindKernelARMHF); err != nil {
		return err
	}
	return fileassert.ExpectKind(files.InitRD.Path, types.KindInitRD)
}

func (b *beagleBoneVariant) Install(_ context.Context, _ types.HostFacts, _ types.DeviceProfile, files Files, backups *[]types.BootConfigEdit) error {
	kernelPath := filepath.Join(bbBootPath, bbMigKernelName)
	if err := copyAndVerify(files.Kernel.Path, kernelPath, files.Kernel.Digest); err != nil {
		return err
	}
	initrdPath := filepath.Join(bbBootPath, bbMigInitrdName)
	if err := copyAndVerify(files.InitRD.Path, initrdPath, files.InitRD.Digest); err != nil {
		return err
	}

	uenvPath := filepath.Join(bbBootPath, bbUEnvTxt)
	if _, err := os.Stat(uenvPath); err != nil {
		return errs.New(errs.MissingFile, "could not find "+uenvPath)
	}

	now := time.Now().Unix()
	backupName := fmt.Sprintf("%s.%d", bbUEnvTxt, now)
	edit, err := backupFile(uenvPath, filepath.Join(bbBootPath, backupName), bbUEnvTxt, backupName)
	if err != nil {
		return err
	}
	*backups = append(*backups, edit)

	newUEnv, err := rewriteUEnvTxt(uenvPath, files)
	if err != nil {
		return err
	}
	if err := os.WriteFile(uenvPath, []byte(newUEnv), 0o644); err != nil {
		return errs.Wrap(errs.IoError, "failed to write "+uenvPath, err)
	}
	return nil
}

func (b *beagleBoneVariant) Restore(_ context.Context, _ types.DeviceProfile, backups []types.BootConfigEdit) (bool, error) {
	allReverted, restoreErr := restoreAll(bbBootPath, backups)

	var errList []error
	if restoreErr != nil {
		errList = append(errList, restoreErr)
	}
	if err := removeIfExists(filepath.Join(bbBootPath, bbMigKernelName)); err != nil {
		errList = append(errList, err)
	}
	if err := removeIfExists(filepath.Join(bbBootPath, bbMigInitrdName)); err != nil {
		errList = append(errList, err)
	}

	if len(errList) > 0 {
		return false, errors.Join(errList...)
	}
	return allReverted, nil
}

// rewriteUEnvTxt comments out any uenvcmd/bootfile override lines (they
// would otherwise take precedence over the migration kernel) and appends
// directives pointing U-Boot at the staged kernel/initramfs with an
// appropriate bootargs line.
func rewriteUEnvTxt(path string, files Files) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, "failed to open "+path, err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if bbUbootLoadLineRe.MatchString(line) {
			b.WriteString("# " + line + "\n")
		} else {
			b.WriteString(line + "\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errs.Wrap(errs.IoError, "failed to read "+path, err)
	}

	bootargs := fmt.Sprintf("root=%s rootfstype=%s console=ttyO0,115200n8", files.RootDeviceCmd, files.RootFSType)
	if files.KernelOpts != "" {
		bootargs += " " + files.KernelOpts
	}

	b.WriteString("bootfile=" + bbMigKernelName + "\n")
	b.WriteString("uenvcmd=run loadimage; run loadfdt; setenv bootargs " + bootargs + "; bootz ${loadaddr} " + bbMigInitrdName + " ${fdtaddr}\n")

	return b.String(), nil
}
