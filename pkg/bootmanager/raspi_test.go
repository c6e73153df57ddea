package bootmanager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRewriteConfigTxt_CommentsAndAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	original := "dtparam=audio=on\nkernel=vmlinuz\ninitramfs initrd.img followkernel\nenable_uart=0\narm_64bit=0\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := rewriteConfigTxt(path, true, false)
	if err != nil {
		t.Fatalf("rewriteConfigTxt: %v", err)
	}

	if !strings.HasPrefix(got, balenaFileTag+"\n") {
		t.Errorf("missing marker tag: %q", got)
	}
	if !strings.Contains(got, "# kernel=vmlinuz") {
		t.Errorf("kernel line not commented: %q", got)
	}
	if !strings.Contains(got, "# initramfs initrd.img followkernel") {
		t.Errorf("initramfs line not commented: %q", got)
	}
	if !strings.Contains(got, "# enable_uart=0") {
		t.Errorf("enable_uart line not commented: %q", got)
	}
	if !strings.Contains(got, "# arm_64bit=0") {
		t.Errorf("arm_64bit line not commented: %q", got)
	}
	if !strings.Contains(got, "dtparam=audio=on\n") {
		t.Errorf("unrelated line dropped: %q", got)
	}
	if !strings.HasSuffix(got, "arm_64bit=1\nenable_uart=1\ninitramfs "+rpiMigInitrdName+" followkernel\nkernel "+rpiMigKernelName+"\n") {
		t.Errorf("missing appended directives: %q", got)
	}
}

func TestRewriteConfigTxt_AlreadyBalenaSkipsTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(path, []byte(balenaFileTag+"\nkernel=old\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := rewriteConfigTxt(path, false, true)
	if err != nil {
		t.Fatalf("rewriteConfigTxt: %v", err)
	}
	if strings.Count(got, balenaFileTag) != 1 {
		t.Errorf("tag should appear exactly once (from original content): %q", got)
	}
}

func TestRewriteCmdlineTxt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdline.txt")
	original := "dwc_otg.lpm_enable=0 root=/dev/mmcblk0p2 rootfstype=ext4 elevator=deadline console=serial0,115200 console=tty1 rootwait\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := rewriteCmdlineTxt(path, "/dev/mmcblk0p7", "ext4", "debug")
	if err != nil {
		t.Fatalf("rewriteCmdlineTxt: %v", err)
	}

	if !strings.Contains(got, "root=/dev/mmcblk0p7") {
		t.Errorf("root not replaced: %q", got)
	}
	if strings.Contains(got, "mmcblk0p2") {
		t.Errorf("old root still present: %q", got)
	}
	if strings.Contains(got, "console=serial0,115200 console=tty1") {
		t.Errorf("old console tokens not stripped: %q", got)
	}
	if !strings.Contains(got, "console=tty1 console=serial0,115200") {
		t.Errorf("new console tokens missing: %q", got)
	}
	if !strings.HasSuffix(got, "debug\n") {
		t.Errorf("kernel opts not appended: %q", got)
	}
}
