package stage2

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/balenamigrate/stage1/pkg/types"
)

func sampleDescriptor() types.Stage2Descriptor {
	return types.Stage2Descriptor{
		EFIBoot:      true,
		DeviceSlug:   "intel-nuc",
		FailMode:     types.FailModeReboot,
		BalenaImage:  "/mnt/work/balena.img.gz",
		BalenaConfig: "/mnt/work/config.json",
		RootDevice:   "/dev/sda2",
		BootDevice:   "/dev/sda1",
		WorkDir:      "/mnt/work",
		BackupConfig: []types.BootConfigEdit{
			{OriginalRelPath: "grub/grub.cfg", BackupRelPath: "grub/grub.cfg.1700000000", BackupDigest: types.Digest{Algorithm: "sha256", Hex: "deadbeef"}},
		},
		Extras: types.Stage2Extras{
			ExtraKernelOpts: []string{"quiet", "splash"},
			WifiConfig:      map[string]string{"ssid": "lab"},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	d := sampleDescriptor()
	rendered := Render(d)

	got, err := Parse([]byte(rendered))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got.EFIBoot != d.EFIBoot || got.DeviceSlug != d.DeviceSlug || got.FailMode != d.FailMode {
		t.Errorf("scalar fields mismatch: got %+v", got)
	}
	if got.RootDevice != d.RootDevice || got.BootDevice != d.BootDevice || got.WorkDir != d.WorkDir {
		t.Errorf("device/workdir fields mismatch: got %+v", got)
	}
	if len(got.BackupConfig) != 1 || got.BackupConfig[0].OriginalRelPath != "grub/grub.cfg" {
		t.Errorf("backup config mismatch: got %+v", got.BackupConfig)
	}
	if got.BackupConfig[0].BackupDigest.Hex != "deadbeef" {
		t.Errorf("backup digest not round-tripped: got %+v", got.BackupConfig[0].BackupDigest)
	}
	if len(got.Extras.ExtraKernelOpts) != 2 {
		t.Errorf("extra kernel opts not round-tripped: got %+v", got.Extras.ExtraKernelOpts)
	}
	if got.Extras.WifiConfig["ssid"] != "lab" {
		t.Errorf("wifi config not round-tripped: got %+v", got.Extras.WifiConfig)
	}
}

func TestParse_UnknownFailModeDefaults(t *testing.T) {
	raw := "efi_boot: true\ndevice_slug: 'intel-nuc'\nfail_mode: 'bogus'\n"
	got, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.FailMode != types.DefaultFailMode {
		t.Errorf("expected default fail mode, got %q", got.FailMode)
	}
}

func TestParse_MissingBackupConfigTolerated(t *testing.T) {
	raw := "efi_boot: false\ndevice_slug: 'raspberrypi'\nfail_mode: 'reboot'\n"
	got, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.BackupConfig) != 0 {
		t.Errorf("expected no backups, got %+v", got.BackupConfig)
	}
}

func TestRender_ContainsExpectedKeys(t *testing.T) {
	rendered := Render(sampleDescriptor())
	for _, want := range []string{"efi_boot: true", "device_slug: 'intel-nuc'", "backup_config:", "- orig:      'grub/grub.cfg'"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered output missing %q:\n%s", want, rendered)
		}
	}
}

func TestWriteAtomicAndReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage2.yml")
	d := sampleDescriptor()

	if err := WriteAtomic(path, d); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.DeviceSlug != d.DeviceSlug {
		t.Errorf("got %+v", got)
	}
}
