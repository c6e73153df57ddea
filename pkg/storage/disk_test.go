package storage

import (
	"testing"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

func TestDriveLayoutFor(t *testing.T) {
	stub := func(device string) (string, error) {
		return "   SIZE UUID\n256060514304 550e8400-e29b-41d4-a716-446655440000\n", nil
	}
	layout, err := driveLayoutFor("/dev/sda", stub)
	if err != nil {
		t.Fatalf("driveLayoutFor: %v", err)
	}
	if layout.SizeBytes != 256060514304 {
		t.Errorf("SizeBytes = %d, want 256060514304", layout.SizeBytes)
	}
	if layout.UUID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("UUID = %q", layout.UUID)
	}
	if layout.ParentDrive != "/dev/sda" {
		t.Errorf("ParentDrive = %q", layout.ParentDrive)
	}
}

func TestDriveLayoutFor_BlankUUID(t *testing.T) {
	stub := func(device string) (string, error) {
		return "   SIZE UUID\n1000000000 \n", nil
	}
	layout, err := driveLayoutFor("/dev/sdb", stub)
	if err != nil {
		t.Fatalf("driveLayoutFor: %v", err)
	}
	if layout.UUID != "" {
		t.Errorf("UUID = %q, want empty", layout.UUID)
	}
	if layout.SizeBytes != 1000000000 {
		t.Errorf("SizeBytes = %d", layout.SizeBytes)
	}
}

func TestRequireSameDrive(t *testing.T) {
	root := types.PartitionInfo{MountPoint: "/", ParentDrive: "/dev/sda"}
	boot := types.PartitionInfo{MountPoint: "/boot", ParentDrive: "/dev/sda"}
	if err := RequireSameDrive(root, boot); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	efi := types.PartitionInfo{MountPoint: "/boot/efi", ParentDrive: "/dev/sdb"}
	err := RequireSameDrive(root, boot, efi)
	if err == nil {
		t.Fatal("expected SplitDriveLayout error, got nil")
	}
	if !errs.Is(err, errs.SplitDriveLayout) {
		t.Errorf("expected SplitDriveLayout, got %v", err)
	}
}
