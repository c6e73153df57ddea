package bootmanager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
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
	rpiMigKernelName = "balena.zImage"
	rpiMigInitrdName = "balena.initramfs.cpio.gz"
	rpiConfigTxt     = "config.txt"
	rpiCmdlineTxt    = "cmdline.txt"
	rpiBootPath      = "/boot"
	balenaFileTag    = "## created by balena-migrate"
)

var (
	rpiInitrdLineRe = regexp.MustCompile(`^\s*initramfs`)
	rpiKernelLineRe = regexp.MustCompile(`^\s*kernel`)
	rpiUartLineRe   = regexp.MustCompile(`^\s*enable_uart`)
	rpi64bitLineRe  = regexp.MustCompile(`^\s*arm_64bit`)

	rootEqualsRe    = regexp.MustCompile(`root=\S+(\s+|$)`)
	rootfstypeRe    = regexp.MustCompile(`rootfstype=\S+(\s+|$)`)
	consoleRe       = regexp.MustCompile(`console=\S+(\s+|$)`)
)

// raspiVariant implements RaspberryPi and RaspberryPi64; the two differ
// only in whether they stage the 64-bit DTBs and toggle arm_64bit=1.
type raspiVariant struct {
	is64 bool
}

func (r *raspiVariant) CanMigrate(_ context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files) error {
	if _, err := os.Stat(rpiBootPath); err != nil {
		return errs.New(errs.MissingFile, "the /boot directory required for the raspi boot manager could not be found")
	}
	for _, dtb := range profile.DeviceTreeBlobs {
		handle, ok := files.DeviceTrees[dtb]
		if !ok {
			return errs.New(errs.MissingFile, "required DTB file "+dtb+" was not staged in the work directory")
		}
		if err := fileassert.ExpectKind(handle.Path, types.KindDeviceTreeBlob); err != nil {
			return err
		}
	}
	if err := fileassert.ExpectKind(files.Kernel.Path, kernelKindFor(facts)); err != nil {
		return err
	}
	return fileassert.ExpectKind(files.InitRD.Path, types.KindInitRD)
}

func kernelKindFor(facts types.HostFacts) types.FileKind {
	if facts.Architecture == types.ArchARM64 {
		return types.KindKernelARM64
	}
	return types.KindKernelARMHF
}

func (r *raspiVariant) Install(_ context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files, backups *[]types.BootConfigEdit) error {
	kernelPath := filepath.Join(rpiBootPath, rpiMigKernelName)
	if err := copyAndVerify(files.Kernel.Path, kernelPath, files.Kernel.Digest); err != nil {
		return err
	}
	if err := os.Chmod(kernelPath, 0o755); err != nil {
		return errs.Wrap(errs.IoError, "failed to chmod "+kernelPath, err)
	}

	initrdPath := filepath.Join(rpiBootPath, rpiMigInitrdName)
	if err := copyAndVerify(files.InitRD.Path, initrdPath, files.InitRD.Digest); err != nil {
		return err
	}

	now := time.Now().Unix()

	for _, dtb := range profile.DeviceTreeBlobs {
		handle := files.DeviceTrees[dtb]
		tgtPath := filepath.Join(rpiBootPath, dtb)
		if _, err := os.Stat(tgtPath); err == nil {
			backupName := fmt.Sprintf("%s-%d", dtb, now)
			edit, err := backupFile(tgtPath, filepath.Join(rpiBootPath, backupName), dtb, backupName)
			if err != nil {
				return err
			}
			*backups = append(*backups, edit)
		}
		if err := copyAndVerify(handle.Path, tgtPath, handle.Digest); err != nil {
			return err
		}
	}

	configPath := filepath.Join(rpiBootPath, rpiConfigTxt)
	if _, err := os.Stat(configPath); err != nil {
		return errs.New(errs.MissingFile, "could not find "+configPath)
	}

	balenaConfig, err := isBalenaFile(configPath)
	if err != nil {
		return err
	}

	if !balenaConfig {
		backupName := fmt.Sprintf("%s.%d", rpiConfigTxt, now)
		edit, err := backupFile(configPath, filepath.Join(rpiBootPath, backupName), rpiConfigTxt, backupName)
		if err != nil {
			return err
		}
		*backups = append(*backups, edit)
	}

	newConfig, err := rewriteConfigTxt(configPath, r.is64, balenaConfig)
	if err != nil {
		return err
	}

	cmdlinePath := filepath.Join(rpiBootPath, rpiCmdlineTxt)
	if !balenaConfig {
		backupName := fmt.Sprintf("%s.%d", rpiCmdlineTxt, now)
		edit, err := backupFile(cmdlinePath, filepath.Join(rpiBootPath, backupName), rpiCmdlineTxt, backupName)
		if err != nil {
			return err
		}
		*backups = append(*backups, edit)
	}

	newCmdline, err := rewriteCmdlineTxt(cmdlinePath, files.RootDeviceCmd, files.RootFSType, files.KernelOpts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(newConfig), 0o644); err != nil {
		return errs.Wrap(errs.IoError, "failed to write "+configPath, err)
	}
	if err := os.WriteFile(cmdlinePath, []byte(newCmdline), 0o644); err != nil {
		return errs.Wrap(errs.IoError, "failed to write "+cmdlinePath, err)
	}

	return nil
}

func (r *raspiVariant) Restore(_ context.Context, profile types.DeviceProfile, backups []types.BootConfigEdit) (bool, error) {
	allReverted, restoreErr := restoreAll(rpiBootPath, backups)

	var errList []error
	if restoreErr != nil {
		errList = append(errList, restoreErr)
	}

	reverted := restoredSet(backups)
	if err := removeIfExists(filepath.Join(rpiBootPath, rpiMigKernelName)); err != nil {
		errList = append(errList, err)
	}
	if err := removeIfExists(filepath.Join(rpiBootPath, rpiMigInitrdName)); err != nil {
		errList = append(errList, err)
	}
	for _, dtb := range profile.DeviceTreeBlobs {
		if reverted[dtb] {
			continue // a pre-existing DTB was backed up and already restored above
		}
		if err := removeIfExists(filepath.Join(rpiBootPath, dtb)); err != nil {
			errList = append(errList, err)
		}
	}

	if len(errList) > 0 {
		return false, errors.Join(errList...)
	}
	return allReverted, nil
}

func isBalenaFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errs.Wrap(errs.IoError, "failed to read "+path, err)
	}
	return strings.Contains(string(data), balenaFileTag), nil
}

// rewriteConfigTxt comments out initramfs/kernel/enable_uart (and, on
// Pi-64, arm_64bit) lines and appends the migration directives, matching
// line-for-line behavior. balenaConfig true means the file already carries
// the marker tag and is not re-tagged.
func rewriteConfigTxt(path string, is64, balenaConfig bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, "failed to open "+path, err)
	}
	defer f.Close()

	var b strings.Builder
	if !balenaConfig {
		b.WriteString(balenaFileTag + "\n")
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case rpiInitrdLineRe.MatchString(line), rpiKernelLineRe.MatchString(line), rpiUartLineRe.MatchString(line):
			b.WriteString("# " + line + "\n")
		case is64 && rpi64bitLineRe.MatchString(line):
			b.WriteString("# " + line + "\n")
		default:
			b.WriteString(line + "\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errs.Wrap(errs.IoError, "failed to read "+path, err)
	}

	if is64 {
		b.WriteString("arm_64bit=1\n")
	}
	b.WriteString("enable_uart=1\n")
	b.WriteString("initramfs " + rpiMigInitrdName + " followkernel\n")
	b.WriteString("kernel " + rpiMigKernelName + "\n")

	return b.String(), nil
}

// rewriteCmdlineTxt replaces the first root= and rootfstype= tokens,
// strips every console= token, appends the serial console pair, and any
// caller-provided kernel options, ending with exactly one newline.
func rewriteCmdlineTxt(path, rootDeviceCmd, rootFSType, kernelOpts string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(errs.IoError, "failed to read "+path, err)
	}
	cmdline := strings.TrimRight(string(data), "\n")

	rootFrag := "root=" + rootDeviceCmd + " "
	if loc := rootEqualsRe.FindStringIndex(cmdline); loc != nil {
		cmdline = cmdline[:loc[0]] + rootFrag + cmdline[loc[1]:]
	} else {
		cmdline = strings.TrimRight(cmdline, " ") + " " + strings.TrimRight(rootFrag, " ")
	}

	fsFrag := "rootfstype=" + rootFSType + " "
	if loc := rootfstypeRe.FindStringIndex(cmdline); loc != nil {
		cmdline = cmdline[:loc[0]] + fsFrag + cmdline[loc[1]:]
	} else {
		cmdline = strings.TrimRight(cmdline, " ") + " " + strings.TrimRight(fsFrag, " ")
	}

	cmdline = consoleRe.ReplaceAllString(cmdline, "")
	cmdline = strings.TrimRight(cmdline, " ") + " console=tty1 console=serial0,115200"

	if kernelOpts != "" {
		cmdline += " " + kernelOpts
	}

	return cmdline + "\n", nil
}

func copyAndVerify(src, dst string, digest *types.Digest) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to open "+src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to create "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.IoError, "failed to copy "+src+" to "+dst, err)
	}

	if digest != nil {
		if err := fileassert.CheckDigest(dst, *digest); err != nil {
			return err
		}
	}
	return nil
}
