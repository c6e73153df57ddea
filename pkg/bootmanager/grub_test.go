package bootmanager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrependMenuEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grub.cfg")
	original := "menuentry 'Ubuntu' {\n    linux /vmlinuz\n}\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	files := Files{RootUUID: "1234-ABCD", RootFSType: "ext4", KernelOpts: "quiet"}
	got, err := prependMenuEntry(path, files)
	if err != nil {
		t.Fatalf("prependMenuEntry: %v", err)
	}

	if !strings.HasPrefix(got, grubMenuTag) {
		t.Errorf("missing menu tag prefix: %q", got)
	}
	if !strings.Contains(got, "root=UUID=1234-ABCD rootfstype=ext4 console=tty0 console=ttyS0,115200 quiet") {
		t.Errorf("cmdline missing expected tokens: %q", got)
	}
	if !strings.Contains(got, "set default=0") {
		t.Errorf("missing default=0: %q", got)
	}
	if !strings.Contains(got, "menuentry 'Ubuntu'") {
		t.Errorf("original entries dropped: %q", got)
	}
	if !strings.HasSuffix(got, original) {
		t.Errorf("original content not preserved verbatim: %q", got)
	}
}
