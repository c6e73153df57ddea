// Package device implements C4: classifying a probed HostFacts into a
// DeviceProfile naming the device family, its supported OS list, the boot
// manager variant to install, and (for device-tree platforms) the set of
// DTBs it needs staged.
package device

import (
	"strings"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

// intelNucSupportedOS mirrors the authoritative IntelNuc profile's
// supported-OS allowlist.
var intelNucSupportedOS = []string{
	"Ubuntu 18.04.2 LTS",
	"Ubuntu 16.04.2 LTS",
	"Ubuntu 14.04.2 LTS",
	"Ubuntu 14.04.5 LTS",
}

var raspberryPiSupportedOS = []string{
	"Raspbian GNU/Linux 9 (stretch)",
	"Raspbian GNU/Linux 10 (buster)",
}

var beagleBoneSupportedOS = []string{
	"Debian GNU/Linux 9 (stretch)",
}

var windowsSupportedOS = []string{
	"Windows 10 IoT Enterprise",
}

// Classify maps HostFacts to a DeviceProfile, matching the family-specific
// rules named for this component. Secure boot is already rejected by C1;
// an unrecognized device-tree model fails with UnsupportedDevice.
func Classify(facts types.HostFacts) (types.DeviceProfile, error) {
	switch facts.Architecture {
	case types.ArchAMD64, types.ArchI386:
		return classifyPC(facts)
	case types.ArchARMHF:
		return classifyARMHF(facts)
	case types.ArchARM64:
		return classifyARM64(facts)
	default:
		return types.DeviceProfile{}, errs.New(errs.UnsupportedArchitecture,
			"no device profile for architecture "+string(facts.Architecture))
	}
}

func classifyPC(facts types.HostFacts) (types.DeviceProfile, error) {
	if isWindows(facts.OSName) {
		return types.DeviceProfile{
			Slug:           "ms-windows",
			Family:         "pc",
			SupportedOSSet: windowsSupportedOS,
			Variant:        types.VariantMSWindowsEFI,
		}, nil
	}

	variant := types.VariantGrubBIOS
	if facts.BootMode == types.BootModeEFI {
		variant = types.VariantGrubEFI
	}
	return types.DeviceProfile{
		Slug:           "intel-nuc",
		Family:         "pc",
		SupportedOSSet: intelNucSupportedOS,
		Variant:        variant,
	}, nil
}

func classifyARMHF(facts types.HostFacts) (types.DeviceProfile, error) {
	model := facts.DeviceTreeModel
	switch {
	case strings.Contains(model, "Raspberry Pi"):
		return types.DeviceProfile{
			Slug:           "raspberrypi3",
			Family:         "raspberrypi",
			SupportedOSSet: raspberryPiSupportedOS,
			Variant:        types.VariantRaspberryPi,
			DeviceTreeBlobs: []string{
				"bcm2710-rpi-3-b.dtb",
				"bcm2710-rpi-3-b-plus.dtb",
			},
		}, nil
	case strings.Contains(model, "TI AM335x"), strings.Contains(model, "BeagleBone"):
		return types.DeviceProfile{
			Slug:           "beaglebone-black",
			Family:         "beaglebone",
			SupportedOSSet: beagleBoneSupportedOS,
			Variant:        types.VariantBeagleBoneUBoot,
		}, nil
	default:
		return types.DeviceProfile{}, errs.New(errs.UnsupportedDevice,
			"unrecognized device-tree model: "+model)
	}
}

func classifyARM64(facts types.HostFacts) (types.DeviceProfile, error) {
	model := facts.DeviceTreeModel
	if strings.Contains(model, "Raspberry Pi 4") {
		return types.DeviceProfile{
			Slug:            "raspberrypi4-64",
			Family:          "raspberrypi",
			SupportedOSSet:  raspberryPiSupportedOS,
			Variant:         types.VariantRaspberryPi64,
			DeviceTreeBlobs: []string{"bcm2711-rpi-4-b.dtb"},
		}, nil
	}
	return types.DeviceProfile{}, errs.New(errs.UnsupportedDevice,
		"unrecognized arm64 device-tree model: "+model)
}

func isWindows(osName string) bool {
	return strings.Contains(strings.ToLower(osName), "windows")
}
