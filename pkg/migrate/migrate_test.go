package migrate

import (
	"testing"

	"github.com/balenamigrate/stage1/pkg/types"
)

func TestKernelKindFor(t *testing.T) {
	cases := []struct {
		arch types.Architecture
		want types.FileKind
	}{
		{types.ArchAMD64, types.KindKernelAMD64},
		{types.ArchI386, types.KindKernelI386},
		{types.ArchARMHF, types.KindKernelARMHF},
		{types.ArchARM64, types.KindKernelARM64},
		{types.Architecture("mips"), types.KindText},
	}
	for _, c := range cases {
		if got := kernelKindFor(c.arch); got != c.want {
			t.Errorf("kernelKindFor(%q) = %q, want %q", c.arch, got, c.want)
		}
	}
}

func TestSupportedOS(t *testing.T) {
	supported := []string{"Ubuntu 18.04.2 LTS", "Ubuntu 16.04.2 LTS"}

	if err := supportedOS("Ubuntu 18.04.2 LTS", supported); err != nil {
		t.Errorf("expected supported OS to pass, got %v", err)
	}

	err := supportedOS("Fedora 39", supported)
	if err == nil {
		t.Fatal("expected unsupported OS to fail")
	}
}
