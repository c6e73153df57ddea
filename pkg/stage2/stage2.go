// Package stage2 implements C7: emitting and parsing the stage-2
// descriptor, a plain key:value text file the migration kernel's initramfs
// reads on first boot to find the staged image, the boot config backups to
// fall back to, and the device/root/boot identity it's taking over. The
// wire format is a minimal line-oriented YAML subset (handwritten on
// write, to match the exact layout byte-for-byte; parsed with a general
// YAML library to tolerate reordering and additions).
package stage2

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

const (
	efiBootKey      = "efi_boot"
	deviceSlugKey   = "device_slug"
	failModeKey     = "fail_mode"
	balenaImageKey  = "balena_image"
	balenaConfigKey = "balena_config"
	rootDeviceKey   = "root_device"
	bootDeviceKey   = "boot_device"
	workDirKey      = "work_dir"
	backupConfigKey = "backup_config"
	backupOrigKey   = "orig"
	backupBckupKey  = "bckup"
	backupDigestKey = "digest"
	extraOptsKey    = "extra_kernel_opts"
	wifiConfigKey   = "wifi_config"
)

// Render serializes a Stage2Descriptor to its on-disk text form.
func Render(d types.Stage2Descriptor) string {
	var b strings.Builder
	b.WriteString("# balena-migrate stage2 config\n")
	b.WriteString(fmt.Sprintf("%s: %t\n", efiBootKey, d.EFIBoot))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", deviceSlugKey, d.DeviceSlug))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", failModeKey, d.FailMode))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", balenaImageKey, d.BalenaImage))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", balenaConfigKey, d.BalenaConfig))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", rootDeviceKey, d.RootDevice))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", bootDeviceKey, d.BootDevice))
	b.WriteString(fmt.Sprintf("%s: '%s'\n", workDirKey, d.WorkDir))

	b.WriteString("# backed up files in boot config\n")
	b.WriteString(fmt.Sprintf("%s:\n", backupConfigKey))
	for _, edit := range d.BackupConfig {
		b.WriteString(fmt.Sprintf("  - %s:      '%s'\n", backupOrigKey, edit.OriginalRelPath))
		b.WriteString(fmt.Sprintf("    %s:     '%s'\n", backupBckupKey, edit.BackupRelPath))
		b.WriteString(fmt.Sprintf("    %s:     '%s:%s'\n", backupDigestKey, edit.BackupDigest.Algorithm, edit.BackupDigest.Hex))
	}

	if len(d.Extras.ExtraKernelOpts) > 0 {
		b.WriteString(fmt.Sprintf("%s: '%s'\n", extraOptsKey, strings.Join(d.Extras.ExtraKernelOpts, " ")))
	}
	if len(d.Extras.WifiConfig) > 0 {
		b.WriteString(fmt.Sprintf("%s:\n", wifiConfigKey))
		for k, v := range d.Extras.WifiConfig {
			b.WriteString(fmt.Sprintf("  %s: '%s'\n", k, v))
		}
	}

	return b.String()
}

// WriteAtomic renders d and writes it to path via path+".tmp" + fsync +
// rename, so a crash mid-write never leaves a torn descriptor for the
// migration kernel to read.
func WriteAtomic(path string, d types.Stage2Descriptor) error {
	tmpPath := path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to create "+tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(Render(d)); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IoError, "failed to write "+tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.IoError, "failed to fsync "+tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.IoError, "failed to close "+tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.IoError, "failed to rename "+tmpPath+" to "+path, err)
	}
	return nil
}

// yamlDoc mirrors the descriptor's on-disk shape loosely enough to parse
// documents with reordered keys, unknown extra keys, or a missing
// backup_config list.
type yamlDoc struct {
	EFIBoot         bool              `yaml:"efi_boot"`
	DeviceSlug      string            `yaml:"device_slug"`
	FailMode        string            `yaml:"fail_mode"`
	BalenaImage     string            `yaml:"balena_image"`
	BalenaConfig    string            `yaml:"balena_config"`
	RootDevice      string            `yaml:"root_device"`
	BootDevice      string            `yaml:"boot_device"`
	WorkDir         string            `yaml:"work_dir"`
	BackupConfig    []yamlBackupEntry `yaml:"backup_config"`
	ExtraKernelOpts string            `yaml:"extra_kernel_opts"`
	WifiConfig      map[string]string `yaml:"wifi_config"`
}

type yamlBackupEntry struct {
	Orig   string `yaml:"orig"`
	Bckup  string `yaml:"bckup"`
	Digest string `yaml:"digest"`
}

// Parse reads and decodes a stage-2 descriptor. An unparseable or
// malformed fail_mode value is tolerated: it is replaced by
// types.DefaultFailMode rather than failing the whole parse. No warning
// is emitted, and the result does not report that a default was used.
func Parse(data []byte) (types.Stage2Descriptor, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.Stage2Descriptor{}, errs.Wrap(errs.IoError, "failed to parse stage2 descriptor", err)
	}

	failMode, ok := types.ParseFailMode(doc.FailMode)
	if !ok {
		failMode = types.DefaultFailMode
	}

	d := types.Stage2Descriptor{
		EFIBoot:      doc.EFIBoot,
		DeviceSlug:   doc.DeviceSlug,
		FailMode:     failMode,
		BalenaImage:  doc.BalenaImage,
		BalenaConfig: doc.BalenaConfig,
		RootDevice:   doc.RootDevice,
		BootDevice:   doc.BootDevice,
		WorkDir:      doc.WorkDir,
	}

	for _, entry := range doc.BackupConfig {
		edit := types.BootConfigEdit{OriginalRelPath: entry.Orig, BackupRelPath: entry.Bckup}
		if algo, hex, ok := strings.Cut(entry.Digest, ":"); ok {
			edit.BackupDigest = types.Digest{Algorithm: algo, Hex: hex}
		}
		d.BackupConfig = append(d.BackupConfig, edit)
	}

	if doc.ExtraKernelOpts != "" {
		d.Extras.ExtraKernelOpts = strings.Fields(doc.ExtraKernelOpts)
	}
	d.Extras.WifiConfig = doc.WifiConfig

	return d, nil
}

// ReadFile reads and parses the descriptor at path.
func ReadFile(path string) (types.Stage2Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Stage2Descriptor{}, errs.Wrap(errs.IoError, "failed to read "+path, err)
	}
	return Parse(data)
}
