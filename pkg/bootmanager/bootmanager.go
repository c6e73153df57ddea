// Package bootmanager implements C5: the boot-manager variant capability
// set {can_migrate, install, restore} for each closed BootManagerVariant.
// Each variant's can_migrate is side-effect-free; install only runs after
// every check in the workflow (see pkg/pipeline) has passed, and appends a
// BootConfigEdit to the shared backup record after each backup it makes
// so a failed later step can be unwound.
package bootmanager

import (
	"context"

	"github.com/balenamigrate/stage1/pkg/types"
)

// Files bundles the staged migration payload a variant installs.
type Files struct {
	Kernel       types.FileHandle
	InitRD       types.FileHandle
	DeviceTrees  map[string]types.FileHandle // by DTB filename, work-dir staged
	WorkDir      string
	KernelOpts   string
	RootUUID     string
	RootFSType   string
	RootDeviceCmd string // kernel cmdline root= value, e.g. "UUID=..." or a device path
}

// Variant is the capability set every boot manager variant implements.
type Variant interface {
	// CanMigrate performs every pre-flight check for this variant. It must
	// not mutate the host.
	CanMigrate(ctx context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files) error
	// Install performs the variant's mutations, appending a BootConfigEdit
	// to backups after each successful backed-up step.
	Install(ctx context.Context, facts types.HostFacts, profile types.DeviceProfile, files Files, backups *[]types.BootConfigEdit) error
	// Restore reverses Install using the recorded backups, best-effort: it
	// reverts every entry in reverse application order, continuing past
	// individual failures, deletes the migration payload it staged, and
	// reports whether every entry was reverted.
	Restore(ctx context.Context, profile types.DeviceProfile, backups []types.BootConfigEdit) (allReverted bool, err error)
}

// For dispatches to the concrete Variant implementation named by v. The
// windows querier/writer/ESP-writer trio is only consulted for
// VariantMSWindowsEFI; pass nil,nil,nil on non-Windows builds.
func For(v types.BootManagerVariant, winQuerier WindowsVolumeQuerier, winWriter WindowsBootEntryWriter, winESPWriter WindowsESPWriter) Variant {
	switch v {
	case types.VariantGrubEFI, types.VariantGrubBIOS:
		return &grubVariant{efi: v == types.VariantGrubEFI}
	case types.VariantRaspberryPi, types.VariantRaspberryPi64:
		return &raspiVariant{is64: v == types.VariantRaspberryPi64}
	case types.VariantBeagleBoneUBoot:
		return &beagleBoneVariant{}
	case types.VariantMSWindowsEFI:
		return &windowsVariant{Querier: winQuerier, Writer: winWriter, ESPWriter: winESPWriter}
	default:
		return nil
	}
}
