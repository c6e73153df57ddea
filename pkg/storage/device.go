package storage

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/balenamigrate/stage1/pkg/errs"
)

// partitionSuffixRe strips the partition-number suffix from a kernel device
// name. nvme/mmcblk/loop devices use a "pN" separator (nvme0n1p1,
// mmcblk0p1, loop0p1); sd/vd/hd/xvd devices append the digits directly
// (sda1, vda1).
var partitionSuffixRe = regexp.MustCompile(`^(.*(?:nvme\d+n\d+|mmcblk\d+|loop\d+))p\d+$`)
var trailingDigitsRe = regexp.MustCompile(`^(/dev/(?:sd|vd|hd|xvd)[a-z]+)\d+$`)

// ParentDrive strips a partition suffix from a kernel device path,
// resolving through device-mapper/LUKS mappings to the underlying physical
// backing device where applicable.
func ParentDrive(device string) (string, error) {
	device = resolveMapperDevice(device)

	if m := partitionSuffixRe.FindStringSubmatch(device); m != nil {
		return m[1], nil
	}
	if m := trailingDigitsRe.FindStringSubmatch(device); m != nil {
		return m[1], nil
	}
	// Already a whole-disk device (no partition suffix matched).
	return device, nil
}

// resolveMapperDevice follows a /dev/mapper/<name> LUKS mapping back to its
// backing device by parsing `cryptsetup status <name>`'s "device:" line. If
// device isn't a mapper path, or cryptsetup can't resolve it, device is
// returned unchanged.
func resolveMapperDevice(device string) string {
	if !strings.HasPrefix(device, "/dev/mapper/") && !strings.HasPrefix(device, "/dev/dm-") {
		return device
	}
	name := strings.TrimPrefix(device, "/dev/mapper/")
	out, err := exec.Command("cryptsetup", "status", name).Output()
	if err != nil {
		return device
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "device:"); ok {
			if backing := strings.TrimSpace(rest); backing != "" {
				return backing
			}
		}
	}
	return device
}

// partitionUUIDAndLabel shells out to blkid to recover a partition's UUID
// and label; either may come back empty if blkid has no opinion.
func partitionUUIDAndLabel(device string) (uuid, label string) {
	out, err := exec.Command("blkid", "-o", "export", device).Output()
	if err != nil {
		return "", ""
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "UUID", "PARTUUID":
			if uuid == "" {
				uuid = v
			}
		case "LABEL", "PARTLABEL":
			if label == "" {
				label = v
			}
		}
	}
	return uuid, label
}

// runLsblk is the real lsblkRunner used outside of tests.
func runLsblk(device string) (string, error) {
	out, err := exec.Command("lsblk", "-b", "--output", "SIZE,UUID", device).Output()
	return string(out), err
}

// DriveByID resolves a stable /dev/disk/by-id symlink back to its
// kernel-visible device path, for callers that recorded a by-id name in a
// prior run (e.g. a stage-2 descriptor surviving a reboot that may have
// renumbered sdX letters).
func DriveByID(id string) (string, error) {
	const byIDDir = "/dev/disk/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return "", errs.Wrap(errs.IoError, "failed to list "+byIDDir, err)
	}
	for _, e := range entries {
		if e.Name() != id {
			continue
		}
		target, err := os.Readlink(byIDDir + "/" + id)
		if err != nil {
			return "", errs.Wrap(errs.IoError, "failed to resolve "+id, err)
		}
		if strings.HasPrefix(target, "/dev/") {
			return target, nil
		}
		return "/dev/" + strings.TrimPrefix(target, "../"), nil
	}
	return "", errs.New(errs.MissingFile, fmt.Sprintf("no disk with id %q", id))
}
