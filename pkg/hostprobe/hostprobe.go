// Package hostprobe implements C1: reading the host's OS name/arch,
// memory, device-tree model, secure-boot flag, and EFI-vs-BIOS posture
// into a HostFacts value. It is a pure query component; it never mutates
// the host.
package hostprobe

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

const (
	deviceTreeModelPath = "/proc/device-tree/model"
	meminfoPath         = "/proc/meminfo"
	osReleasePath       = "/etc/os-release"
	efiSysfsPath        = "/sys/firmware/efi"
	efivarsDir          = "/sys/firmware/efi/efivars"
)

// globalEFIVarGUID is the well-known scope GUID EFI global variables such
// as SecureBoot and SetupMode live under, parsed through uuid.MustParse so
// a malformed literal fails at init rather than producing a silently wrong
// efivarfs path.
var globalEFIVarGUID = uuid.MustParse("8be4df61-93ca-11d2-aa0d-00e098032b8c").String()

// Probe reads the live host and returns its HostFacts, or an *errs.Error on
// any hard failure named in the contract below.
func Probe() (types.HostFacts, error) {
	arch, err := architecture()
	if err != nil {
		return types.HostFacts{}, err
	}

	osName, osRelease := readOSRelease()

	mem, err := totalMemory()
	if err != nil {
		return types.HostFacts{}, errs.Wrap(errs.IoError, "failed to read /proc/meminfo", err)
	}

	bootMode := detectBootMode()

	sb := detectSecureBoot(bootMode)
	if bootMode == types.BootModeEFI && sb != types.SecureBootOff {
		return types.HostFacts{}, errs.New(errs.SecureBootEnabled,
			"this engine does not support EFI hosts with secure boot enabled or of unknown state")
	}

	model := readDeviceTreeModel()

	admin, err := isAdmin(bootMode)
	if err != nil {
		return types.HostFacts{}, err
	}
	if !admin {
		return types.HostFacts{}, errs.New(errs.InsufficientPrivilege,
			"effective user cannot write to the boot filesystem")
	}

	return types.HostFacts{
		Architecture:    arch,
		OSName:          osName,
		OSRelease:       osRelease,
		TotalMemory:     mem,
		SecureBoot:      sb,
		BootMode:        bootMode,
		DeviceTreeModel: model,
		IsAdmin:         admin,
	}, nil
}

// architecture derives HostFacts.Architecture from the architecture this
// binary was built for (runtime.GOARCH), mapped onto the four supported
// values. It does not query the kernel's machine name (`uname -m`).
func architecture() (types.Architecture, error) {
	switch runtime.GOARCH {
	case "amd64":
		return types.ArchAMD64, nil
	case "386":
		return types.ArchI386, nil
	case "arm":
		return types.ArchARMHF, nil
	case "arm64":
		return types.ArchARM64, nil
	default:
		return "", errs.New(errs.UnsupportedArchitecture,
			fmt.Sprintf("unsupported architecture %q", runtime.GOARCH))
	}
}

// readOSRelease parses /etc/os-release's key=value (optionally quoted)
// lines, returning PRETTY_NAME (falling back to NAME) and VERSION_ID.
func readOSRelease() (osName, osRelease string) {
	f, err := os.Open(osReleasePath)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	vals := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"'`)
		vals[k] = v
	}

	osName = vals["PRETTY_NAME"]
	if osName == "" {
		osName = vals["NAME"]
	}
	return osName, vals["VERSION_ID"]
}

func totalMemory() (uint64, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed MemTotal line: %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed MemTotal value: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemTotal not found in %s", meminfoPath)
}

// detectBootMode reports EFI iff the firmware exposes EFI variables.
// Whether the ESP is mountable is left to the storage resolver.
func detectBootMode() types.BootMode {
	if _, err := os.Stat(efiSysfsPath); err == nil {
		return types.BootModeEFI
	}
	return types.BootModeBIOS
}

// detectSecureBoot reads the SecureBoot EFI variable directly from
// efivarfs (4 bytes of attributes followed by 1 byte of value, the same
// layout used by every efivarfs reader in the wild); if that file cannot
// be read it falls back to `mokutil --sb-state`. Absence of both paths is
// `unknown`, and `unknown` is only ever treated as `off` for non-EFI hosts
// by the caller.
func detectSecureBoot(mode types.BootMode) types.SecureBootState {
	if mode != types.BootModeEFI {
		return types.SecureBootUnknown
	}

	path := fmt.Sprintf("%s/SecureBoot-%s", efivarsDir, globalEFIVarGUID)
	if data, err := readEFIVar(path); err == nil && len(data) >= 5 {
		if data[4] == 1 {
			return types.SecureBootOn
		}
		return types.SecureBootOff
	}

	out, err := exec.Command("mokutil", "--sb-state").Output()
	if err != nil {
		return types.SecureBootUnknown
	}
	if strings.Contains(strings.ToLower(string(out)), "secureboot enabled") {
		return types.SecureBootOn
	}
	if strings.Contains(strings.ToLower(string(out)), "secureboot disabled") {
		return types.SecureBootOff
	}
	return types.SecureBootUnknown
}

// readEFIVar reads an efivarfs entry through raw unix file descriptor
// calls with an explicit O_RDONLY and no O_CREAT, so a missing variable
// fails the read instead of silently creating one; the guarded flags
// mirror how efivarfs is otherwise handled through golang.org/x/sys/unix
// rather than plain os.ReadFile.
func readEFIVar(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	buf := make([]byte, 8)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func readDeviceTreeModel() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\x00\n")
}

// isAdmin reports whether the effective user can write to /boot, or to
// /boot/efi on an EFI host where that directory exists. It covers the
// Linux path only; no Windows ESP check is made here.
func isAdmin(mode types.BootMode) (bool, error) {
	target := "/boot"
	if mode == types.BootModeEFI {
		if _, err := os.Stat("/boot/efi"); err == nil {
			target = "/boot/efi"
		}
	}
	info, err := os.Stat(target)
	if err != nil {
		// No /boot at all is reported as non-admin, so Probe fails with
		// InsufficientPrivilege rather than panicking downstream.
		return false, nil
	}
	return writableBy(info, os.Geteuid(), os.Getegid()), nil
}
