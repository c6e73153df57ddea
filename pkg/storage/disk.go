// Package storage implements C2: from a host path, resolve the backing
// partition, its parent drive, filesystem kind, size, free space, and a
// stable kernel-visible device name, and enforce the split-drive-layout
// hard gate. The mount boundary comes from /proc/mounts and size/free space
// from statfs. The parent drive is derived from the device name alone
// (after following a LUKS mapping through `cryptsetup status`); no block
// device enumerator is asked for it. blkid supplies the partition UUID and
// label, and lsblk the drive layout.
package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

// lsblkLineRe matches the data line of `lsblk -b --output=SIZE,UUID <dev>`:
// header + one data line, size then an optional UUID column that may be
// blank.
var lsblkLineRe = regexp.MustCompile(`^(\d+)(\s+(.*))?$`)

// Resolve walks path's ancestors until a mount boundary is crossed and
// returns the PartitionInfo for the partition mounted there.
func Resolve(path string) (types.PartitionInfo, error) {
	mountPoint, device, fsType, err := findMountBoundary(path)
	if err != nil {
		return types.PartitionInfo{}, errs.Wrap(errs.IoError, "failed to resolve mount boundary for "+path, err)
	}

	parent, err := ParentDrive(device)
	if err != nil {
		return types.PartitionInfo{}, err
	}

	var free, total uint64
	var stat syscall.Statfs_t
	if err := syscall.Statfs(mountPoint, &stat); err == nil {
		free = uint64(stat.Bavail) * uint64(stat.Bsize)
		total = uint64(stat.Blocks) * uint64(stat.Bsize)
	}

	uuid, label := partitionUUIDAndLabel(device)

	return types.PartitionInfo{
		MountPoint:     mountPoint,
		Device:         device,
		ParentDrive:    parent,
		Filesystem:     filesystemKind(fsType),
		SizeBytes:      total,
		FreeBytes:      free,
		PartitionUUID:  uuid,
		PartitionLabel: label,
	}, nil
}

// DriveLayout calls the external enumerator (lsblk) with p.ParentDrive and
// parses its "SIZE,UUID" columns with the exact regex named in the
// external interfaces contract. It tolerates an empty UUID column.
func DriveLayout(p types.PartitionInfo) (types.DriveLayout, error) {
	return driveLayoutFor(p.ParentDrive, runLsblk)
}

// lsblkRunner abstracts the external lsblk invocation so tests can supply
// canned stub output without requiring an actual block device.
type lsblkRunner func(device string) (string, error)

func driveLayoutFor(device string, run lsblkRunner) (types.DriveLayout, error) {
	out, err := run(device)
	if err != nil {
		return types.DriveLayout{}, errs.Wrap(errs.ExternalCommandFailed, "lsblk failed for "+device, err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 2 {
		return types.DriveLayout{}, errs.New(errs.IoError, "unexpected lsblk output for "+device)
	}
	dataLine := lines[1]

	m := lsblkLineRe.FindStringSubmatch(dataLine)
	if m == nil {
		return types.DriveLayout{}, errs.New(errs.IoError, "unparseable lsblk output: "+dataLine)
	}

	size, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return types.DriveLayout{}, errs.Wrap(errs.IoError, "unparseable lsblk size column", err)
	}

	uuid := strings.TrimSpace(m[3])

	return types.DriveLayout{ParentDrive: device, SizeBytes: size, UUID: uuid}, nil
}

// RequireSameDrive enforces the multi-drive invariant: every given
// PartitionInfo must share the same parent drive. It is a hard gate with
// no override, matching the SplitDriveLayout Non-goal.
func RequireSameDrive(parts ...types.PartitionInfo) error {
	if len(parts) == 0 {
		return nil
	}
	want := parts[0].ParentDrive
	for _, p := range parts[1:] {
		if p.ParentDrive != want {
			return errs.New(errs.SplitDriveLayout,
				fmt.Sprintf("%s is on %s but %s is on %s", parts[0].MountPoint, want, p.MountPoint, p.ParentDrive))
		}
	}
	return nil
}

// findMountBoundary walks path's ancestors via /proc/mounts, returning the
// longest mount-point prefix of path, its backing device, and fstype.
func findMountBoundary(path string) (mountPoint, device, fsType string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", "", err
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", "", "", err
	}
	defer f.Close()

	bestLen := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mp := fields[1]
		if !strings.HasPrefix(abs, mp) {
			continue
		}
		if mp != "/" && abs != mp && !strings.HasPrefix(abs, mp+"/") {
			continue
		}
		if len(mp) > bestLen {
			bestLen = len(mp)
			mountPoint, device, fsType = mp, fields[0], fields[2]
		}
	}
	if bestLen < 0 {
		return "", "", "", fmt.Errorf("no mount found covering %s", abs)
	}
	return mountPoint, device, fsType, nil
}

func filesystemKind(fsType string) types.FilesystemKind {
	switch fsType {
	case "ext2":
		return types.FSExt2
	case "ext3":
		return types.FSExt3
	case "ext4":
		return types.FSExt4
	case "vfat":
		return types.FSVfat
	case "ntfs", "ntfs3":
		return types.FSNTFS
	case "btrfs":
		return types.FSBtrfs
	case "f2fs":
		return types.FSF2FS
	default:
		return types.FSOther
	}
}
