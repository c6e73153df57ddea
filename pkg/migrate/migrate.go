// Package migrate orchestrates a full stage-1 run: probe the host,
// classify the device, resolve storage topology, verify staged files,
// and run the chosen boot-manager variant's checks then its install. It
// wires C1 through C5 together via pkg/pipeline.Workflow so that no
// mutation runs before every check has passed, restoring any partial
// mutation if a later step fails. The stage-2 descriptor (C7) is written
// only after install succeeds, outside the workflow: a failure there is
// reported, not rolled back.
package migrate

import (
	"context"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/balenamigrate/stage1/pkg/bootmanager"
	"github.com/balenamigrate/stage1/pkg/device"
	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/fileassert"
	"github.com/balenamigrate/stage1/pkg/hostprobe"
	"github.com/balenamigrate/stage1/pkg/pipeline"
	"github.com/balenamigrate/stage1/pkg/reporter"
	"github.com/balenamigrate/stage1/pkg/stage2"
	"github.com/balenamigrate/stage1/pkg/storage"
	"github.com/balenamigrate/stage1/pkg/types"
)

// Config names the paths and options a run needs: the staged migration
// payload, the working directory it lives in, and options the caller
// collected on the CLI (kernel opts, fail mode, Wi-Fi config carried
// through untouched).
type Config struct {
	WorkDir        string
	KernelPath     string
	InitRDPath     string
	DeviceTreeDir  string // only consulted for ARM variants
	BalenaImage    string
	BalenaConfig   string
	KernelOpts     string
	FailMode       types.FailMode
	Stage2Path     string // where the descriptor is written, e.g. /etc/balena-stage2.yml
	KernelDigest   *types.Digest
	InitRDDigest   *types.Digest
	WindowsQuerier bootmanager.WindowsVolumeQuerier
	WindowsWriter  bootmanager.WindowsBootEntryWriter
	WindowsESP     bootmanager.WindowsESPWriter
}

// Result is returned by a successful Run.
type Result struct {
	Facts      types.HostFacts
	Profile    types.DeviceProfile
	Descriptor types.Stage2Descriptor
}

// Run executes one full migration attempt. On any check failure nothing
// on the host has been touched; on an install failure that leaves
// mutationStarted true, Run attempts to restore every backup already
// recorded before returning the original error.
func Run(ctx context.Context, cfg Config, rep reporter.Reporter) (Result, error) {
	wf := pipeline.NewWorkflow(rep)
	state := &pipeline.State{Reporter: rep, Partitions: map[string]types.PartitionInfo{}}

	var variant bootmanager.Variant
	var files bootmanager.Files

	wf.AddCheck("check required tools", func(ctx context.Context, s *pipeline.State) error {
		if missing, ok := pipeline.LinuxRequirements.Check(); !ok {
			return errs.New(errs.MissingCommand, "required command not found on PATH: "+missing)
		}
		return nil
	})

	wf.AddCheck("probe host", func(ctx context.Context, s *pipeline.State) error {
		facts, err := hostprobe.Probe()
		if err != nil {
			return err
		}
		s.Facts = facts
		return nil
	})

	wf.AddCheck("classify device", func(ctx context.Context, s *pipeline.State) error {
		profile, err := device.Classify(s.Facts)
		if err != nil {
			return err
		}
		s.Profile = profile
		return supportedOS(s.Facts.OSName, profile.SupportedOSSet)
	})

	wf.AddCheck("resolve storage topology", func(ctx context.Context, s *pipeline.State) error {
		paths := map[string]string{"root": "/", "boot": "/boot"}
		if s.Facts.BootMode == types.BootModeEFI {
			paths["efi"] = "/boot/efi"
		}

		var toCompare []types.PartitionInfo
		for name, path := range paths {
			info, err := storage.Resolve(path)
			if err != nil {
				continue // not every path exists on every variant (e.g. no separate /boot/efi)
			}
			s.Partitions[name] = info
			toCompare = append(toCompare, info)
		}
		if err := storage.RequireSameDrive(toCompare...); err != nil {
			return err
		}

		root, ok := s.Partitions["root"]
		if !ok {
			return errs.New(errs.MissingFile, "could not resolve the root partition")
		}
		layout, err := storage.DriveLayout(root)
		if err != nil {
			return err
		}
		s.Layout = layout
		rep.Message("target drive %s: %s", layout.ParentDrive, units.HumanSize(float64(layout.SizeBytes)))
		return nil
	})

	wf.AddCheck("verify staged files", func(ctx context.Context, s *pipeline.State) error {
		kernelKind := kernelKindFor(s.Facts.Architecture)
		if err := fileassert.ExpectKind(cfg.KernelPath, kernelKind); err != nil {
			return err
		}
		if err := fileassert.ExpectKind(cfg.InitRDPath, types.KindInitRD); err != nil {
			return err
		}
		if cfg.KernelDigest != nil {
			if err := fileassert.CheckDigest(cfg.KernelPath, *cfg.KernelDigest); err != nil {
				return err
			}
		}
		if cfg.InitRDDigest != nil {
			if err := fileassert.CheckDigest(cfg.InitRDPath, *cfg.InitRDDigest); err != nil {
				return err
			}
		}

		dtbs := map[string]types.FileHandle{}
		for _, dtb := range s.Profile.DeviceTreeBlobs {
			path := filepath.Join(cfg.DeviceTreeDir, dtb)
			if err := fileassert.ExpectKind(path, types.KindDeviceTreeBlob); err != nil {
				return err
			}
			dtbs[dtb] = types.FileHandle{Path: path, Kind: types.KindDeviceTreeBlob}
		}

		root := s.Partitions["root"]
		files = bootmanager.Files{
			Kernel:        types.FileHandle{Path: cfg.KernelPath, Kind: kernelKind, Digest: cfg.KernelDigest},
			InitRD:        types.FileHandle{Path: cfg.InitRDPath, Kind: types.KindInitRD, Digest: cfg.InitRDDigest},
			DeviceTrees:   dtbs,
			WorkDir:       cfg.WorkDir,
			KernelOpts:    cfg.KernelOpts,
			RootUUID:      root.PartitionUUID,
			RootFSType:    string(root.Filesystem),
			RootDeviceCmd: root.Device,
		}
		return nil
	})

	wf.AddCheck("boot manager preflight", func(ctx context.Context, s *pipeline.State) error {
		variant = bootmanager.For(s.Profile.Variant, cfg.WindowsQuerier, cfg.WindowsWriter, cfg.WindowsESP)
		if variant == nil {
			return errs.New(errs.UnsupportedDevice, "no boot manager implementation for variant "+string(s.Profile.Variant))
		}
		return variant.CanMigrate(ctx, s.Facts, s.Profile, files)
	})

	wf.AddMutation("install boot manager", func(ctx context.Context, s *pipeline.State) error {
		return variant.Install(ctx, s.Facts, s.Profile, files, &s.BackupConfig)
	})

	mutationStarted, err := wf.Run(ctx, state)
	if err != nil {
		if mutationStarted && variant != nil {
			rep.Warning("migration failed after mutation began; attempting restore")
			allReverted, restoreErr := variant.Restore(ctx, state.Profile, state.BackupConfig)
			if restoreErr != nil {
				rep.Error(restoreErr, "restore failed; host may be left in a partially migrated state")
				rep.Warning("%s: not every backup entry was reverted", errs.RestoreIncomplete)
			} else if !allReverted {
				rep.Warning("restore completed but not every backup entry was reverted")
			} else {
				rep.Message("restore completed")
			}
		}
		return Result{}, err
	}

	// install succeeded: the boot configuration now points at the staged
	// migration payload. A failure writing the stage-2 descriptor from here
	// on is reported, not rolled back — the host is left in its new,
	// partially-migrated state rather than undoing a working install.
	root := state.Partitions["root"]
	boot := state.Partitions["boot"]
	descriptor := types.Stage2Descriptor{
		EFIBoot:      state.Facts.BootMode == types.BootModeEFI,
		DeviceSlug:   state.Profile.Slug,
		FailMode:     cfg.FailMode,
		BalenaImage:  cfg.BalenaImage,
		BalenaConfig: cfg.BalenaConfig,
		RootDevice:   root.Device,
		BootDevice:   boot.Device,
		WorkDir:      cfg.WorkDir,
		BackupConfig: state.BackupConfig,
	}
	if err := stage2.WriteAtomic(cfg.Stage2Path, descriptor); err != nil {
		rep.Error(err, "boot configuration installed but the stage-2 descriptor could not be written; host is partially migrated")
		return Result{}, errs.Wrap(errs.IoError, "install succeeded but writing the stage-2 descriptor failed", err)
	}

	return Result{Facts: state.Facts, Profile: state.Profile, Descriptor: descriptor}, nil
}

func kernelKindFor(arch types.Architecture) types.FileKind {
	switch arch {
	case types.ArchAMD64:
		return types.KindKernelAMD64
	case types.ArchI386:
		return types.KindKernelI386
	case types.ArchARMHF:
		return types.KindKernelARMHF
	case types.ArchARM64:
		return types.KindKernelARM64
	default:
		return types.KindText
	}
}

func supportedOS(osName string, supported []string) error {
	for _, s := range supported {
		if s == osName {
			return nil
		}
	}
	return errs.New(errs.UnsupportedOs, "OS "+osName+" is not in the supported set for this device profile")
}
