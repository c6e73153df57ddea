package bootmanager

import (
	"github.com/balenamigrate/stage1/pkg/types"
)

func testWindowsFacts() types.HostFacts {
	return types.HostFacts{Architecture: types.ArchAMD64, BootMode: types.BootModeEFI, OSName: "Windows 10 IoT Enterprise"}
}

func testProfile() types.DeviceProfile {
	return types.DeviceProfile{Slug: "ms-windows", Family: "pc", Variant: types.VariantMSWindowsEFI}
}

func testFileHandle() types.FileHandle {
	return types.FileHandle{Path: "/nonexistent"}
}
