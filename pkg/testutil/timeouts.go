package testutil

import "time"

// Test timeout constants by test type.
// Use these with context.WithTimeout for consistent, explicit timeouts.
const (
	// TimeoutUnit is for unit tests (no I/O, no external dependencies)
	TimeoutUnit = 30 * time.Second

	// TimeoutIntegration is for integration tests (disk operations, external commands)
	TimeoutIntegration = 2 * time.Minute

	// TimeoutHostProbe bounds a full host-facts probe (C1), including the
	// mokutil fallback for secure-boot detection.
	TimeoutHostProbe = 30 * time.Second

	// TimeoutBootManagerInstall bounds a boot-manager variant's Install
	// step, including a grub-install invocation where required.
	TimeoutBootManagerInstall = 2 * time.Minute

	// TimeoutRestore bounds a boot-manager variant's Restore step when
	// unwinding a partial migration.
	TimeoutRestore = 30 * time.Second

	// TimeoutOperation is the default timeout for individual external
	// command invocations (lsblk, blkid, cryptsetup status, ...).
	TimeoutOperation = 60 * time.Second
)
