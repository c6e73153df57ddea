package device

import (
	"testing"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

func TestClassify_IntelNucEFI(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchAMD64, BootMode: types.BootModeEFI, OSName: "Ubuntu 18.04.2 LTS"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Slug != "intel-nuc" || profile.Variant != types.VariantGrubEFI {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_IntelNucBIOS(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchAMD64, BootMode: types.BootModeBIOS, OSName: "Ubuntu 16.04.2 LTS"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Variant != types.VariantGrubBIOS {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_WindowsAlwaysEFI(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchAMD64, BootMode: types.BootModeBIOS, OSName: "Windows 10 IoT Enterprise"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Variant != types.VariantMSWindowsEFI {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_RaspberryPi3(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchARMHF, DeviceTreeModel: "Raspberry Pi 3 Model B Rev 1.2"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Slug != "raspberrypi3" || len(profile.DeviceTreeBlobs) != 2 {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_RaspberryPi4_64(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchARM64, DeviceTreeModel: "Raspberry Pi 4 Model B Rev 1.1"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Slug != "raspberrypi4-64" {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_BeagleBone(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchARMHF, DeviceTreeModel: "TI AM335x BeagleBone Black"}
	profile, err := Classify(facts)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if profile.Slug != "beaglebone-black" {
		t.Errorf("got %+v", profile)
	}
}

func TestClassify_UnknownDeviceTreeModel(t *testing.T) {
	facts := types.HostFacts{Architecture: types.ArchARMHF, DeviceTreeModel: "Some Unknown Board"}
	_, err := Classify(facts)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.Is(err, errs.UnsupportedDevice) {
		t.Errorf("expected UnsupportedDevice, got %v", err)
	}
}
