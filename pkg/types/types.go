// Package types holds the data model shared across the migration engine's
// packages: the facts gathered about the host, the device/boot-manager
// profile chosen for it, the storage topology it runs on, the files it
// verifies, and the handoff record it leaves for stage 2.
//
// Values of these types are produced once by the pipeline stage that owns
// them and treated as read-only by every later stage; see each field's
// owning package for the operation that constructs it.
package types

// Architecture is the host's CPU architecture as self-reported by the
// kernel. The variant set is closed at the four values the boot-manager
// matrix actually targets.
type Architecture string

const (
	ArchAMD64 Architecture = "amd64"
	ArchI386  Architecture = "i386"
	ArchARMHF Architecture = "armhf"
	ArchARM64 Architecture = "arm64"
)

// SecureBootState is the EFI SecureBoot variable's reported state.
type SecureBootState string

const (
	SecureBootOn      SecureBootState = "on"
	SecureBootOff     SecureBootState = "off"
	SecureBootUnknown SecureBootState = "unknown"
)

// BootMode distinguishes EFI firmware from legacy BIOS.
type BootMode string

const (
	BootModeEFI  BootMode = "efi"
	BootModeBIOS BootMode = "bios"
)

// HostFacts is the immutable result of the host probe. It is produced once
// at the start of a run and never mutated afterward.
type HostFacts struct {
	Architecture    Architecture
	OSName          string
	OSRelease       string
	TotalMemory     uint64 // bytes
	SecureBoot      SecureBootState
	BootMode        BootMode
	DeviceTreeModel string // optional, ARM only
	IsAdmin         bool
}

// BootManagerVariant names one of the six closed boot-manager
// implementations. There is no seventh value and no nullable variant.
type BootManagerVariant string

const (
	VariantGrubEFI         BootManagerVariant = "grub-efi"
	VariantGrubBIOS        BootManagerVariant = "grub-bios"
	VariantRaspberryPi     BootManagerVariant = "raspberrypi"
	VariantRaspberryPi64   BootManagerVariant = "raspberrypi64"
	VariantBeagleBoneUBoot BootManagerVariant = "beaglebone-uboot"
	VariantMSWindowsEFI    BootManagerVariant = "mswin-efi"
)

// DeviceProfile is the concrete device/boot-manager pairing chosen by the
// device classifier. It is chosen once and carries everything downstream
// components need without pointing back at the classifier.
type DeviceProfile struct {
	Slug            string // stable, e.g. "intel-nuc", "raspberrypi3", "raspberrypi4-64", "beaglebone-black"
	Family          string // coarser category, e.g. "raspberrypi", "beaglebone", "pc"
	SupportedOSSet  []string
	Variant         BootManagerVariant
	DeviceTreeBlobs []string // required DTB file names, ARM variants only
}

// FilesystemKind is the filesystem type reported for a partition.
type FilesystemKind string

const (
	FSExt2  FilesystemKind = "ext2"
	FSExt3  FilesystemKind = "ext3"
	FSExt4  FilesystemKind = "ext4"
	FSVfat  FilesystemKind = "vfat"
	FSNTFS  FilesystemKind = "ntfs"
	FSBtrfs FilesystemKind = "btrfs"
	FSF2FS  FilesystemKind = "f2fs"
	FSOther FilesystemKind = "other"
)

// PartitionInfo describes one mounted partition as resolved by the storage
// topology resolver.
type PartitionInfo struct {
	MountPoint     string
	Device         string // kernel-visible backing device, e.g. "/dev/sda1"
	ParentDrive    string // e.g. "/dev/sda"
	Filesystem     FilesystemKind
	SizeBytes      uint64
	FreeBytes      uint64
	PartitionUUID  string
	PartitionLabel string
}

// DriveLayout is the parent drive shared by a set of partitions.
type DriveLayout struct {
	ParentDrive string
	SizeBytes   uint64
	UUID        string
}

// FileKind is the semantic kind of file a FileHandle asserts about itself.
type FileKind string

const (
	KindKernelAMD64    FileKind = "kernel-amd64"
	KindKernelI386     FileKind = "kernel-i386"
	KindKernelARMHF    FileKind = "kernel-armhf"
	KindKernelARM64    FileKind = "kernel-arm64"
	KindInitRD         FileKind = "initrd"
	KindOSImage        FileKind = "os-image"
	KindJSONConfig     FileKind = "json-config"
	KindDeviceTreeBlob FileKind = "device-tree-blob"
	KindText           FileKind = "text"
)

// Digest is a content hash used to verify a file survived a copy unchanged.
type Digest struct {
	Algorithm string // "sha256" or "sha512"
	Hex       string
}

// FileHandle is an immutable reference to a file the engine has inspected.
// Any operation that yields a new path (a copy) produces a new FileHandle;
// nothing mutates one in place.
type FileHandle struct {
	Path   string
	Size   int64
	Kind   FileKind
	Digest *Digest // optional
}

// BootConfigEdit records one file the engine has replaced, so that stage 2
// or a rollback helper can restore the pre-migration state bit for bit.
type BootConfigEdit struct {
	OriginalRelPath string
	BackupRelPath   string
	BackupDigest    Digest
}

// FailMode is the post-reboot behavior stage 2 applies on failure.
type FailMode string

const (
	FailModeReboot FailMode = "Reboot"
	FailModeRescue FailMode = "Rescue"
	FailModeHalt   FailMode = "Halt"
)

// DefaultFailMode is used whenever a FailMode cannot be determined, e.g.
// while parsing a stage-2 descriptor with a missing or unparseable
// fail_mode key.
const DefaultFailMode = FailModeReboot

// ParseFailMode parses a FailMode; on failure it returns DefaultFailMode
// so callers can warn-and-default rather than fail the whole parse.
func ParseFailMode(s string) (FailMode, bool) {
	switch FailMode(s) {
	case FailModeReboot, FailModeRescue, FailModeHalt:
		return FailMode(s), true
	default:
		return DefaultFailMode, false
	}
}

// Stage2Descriptor is the handoff record stage 1 writes for the stage-2
// kernel to consume after reboot.
type Stage2Descriptor struct {
	EFIBoot      bool
	DeviceSlug   string
	FailMode     FailMode
	BalenaImage  string
	BalenaConfig string
	RootDevice   string
	BootDevice   string
	WorkDir      string
	BackupConfig []BootConfigEdit
	Extras       Stage2Extras
}

// Stage2Extras carries caller-supplied pass-through data that the original
// implementation threaded through MigrateInfo but that this engine neither
// builds nor interprets: extra kernel command-line options and captured
// Wi-Fi credentials to hand to stage 2. Wi-Fi scraping itself is out of
// scope; this is just the carrier so a config that already has credentials
// round-trips through the descriptor.
type Stage2Extras struct {
	ExtraKernelOpts []string
	WifiConfig      map[string]string
}
