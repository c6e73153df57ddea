// Package pipeline sequences the stage-1 checks and mutations in a fixed,
// short-circuit order: nothing may mutate the host before every
// can_migrate-style check has passed. It generalizes a named-step runner
// into a data-driven sequence built once per run from the host probe,
// device classifier, storage resolver, file assertions, and the chosen
// boot-manager variant.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/balenamigrate/stage1/pkg/reporter"
	"github.com/balenamigrate/stage1/pkg/types"
)

// StepFunc is a single pipeline step. Steps before the mutation boundary
// must be side-effect-free; see Workflow.Run.
type StepFunc func(ctx context.Context, state *State) error

type namedStep struct {
	name   string
	fn     StepFunc
	mutate bool // true once this step may touch the host
}

// Workflow runs a fixed, ordered, short-circuit sequence of steps. The
// first failing step aborts the run; no later step runs.
type Workflow struct {
	steps    []namedStep
	reporter reporter.Reporter
}

// NewWorkflow creates a Workflow that reports progress via the given Reporter.
func NewWorkflow(r reporter.Reporter) *Workflow {
	return &Workflow{reporter: r}
}

// AddCheck appends a pure validation step (no host mutation permitted).
func (w *Workflow) AddCheck(name string, fn StepFunc) {
	w.steps = append(w.steps, namedStep{name: name, fn: fn})
}

// AddMutation appends a step permitted to mutate the host. It may only be
// reached once every preceding check has passed.
func (w *Workflow) AddMutation(name string, fn StepFunc) {
	w.steps = append(w.steps, namedStep{name: name, fn: fn, mutate: true})
}

// Run executes all steps in order, reporting each through the Reporter.
// It returns the error of the first step that fails, annotated with the
// step name, and a bool indicating whether the failure occurred after a
// mutation step had already started (so the caller knows whether restore
// is required).
func (w *Workflow) Run(ctx context.Context, state *State) (mutationStarted bool, err error) {
	total := len(w.steps)
	for i, step := range w.steps {
		if err := ctx.Err(); err != nil {
			return mutationStarted, err
		}
		w.reporter.Step(i+1, total, step.name)
		if step.mutate {
			mutationStarted = true
		}
		if err := step.fn(ctx, state); err != nil {
			return mutationStarted, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return mutationStarted, nil
}

// State holds shared mutable state passed between pipeline steps as C1–C7
// populate it. Each field is owned by the component that constructs it and
// is read-only to every later step.
type State struct {
	Reporter reporter.Reporter
	DryRun   bool
	Verbose  bool

	// Populated by C1 (pkg/hostprobe).
	Facts types.HostFacts
	// Populated by C4 (pkg/device).
	Profile types.DeviceProfile
	// Populated by C2 (pkg/storage), one per resolved mount path.
	Partitions map[string]types.PartitionInfo
	// Populated by C2.
	Layout types.DriveLayout
	// Populated by C5.install, appended to as each mutation commits.
	BackupConfig []types.BootConfigEdit
}

// Requirements names the external commands a run needs. Required commands
// missing from PATH abort the pipeline with MissingCommand; optional
// commands degrade functionality (e.g. without mokutil, secure-boot
// detection relies on the efivars read alone) rather than failing.
type Requirements struct {
	Required []string
	Optional []string
}

// Check verifies every required command is on PATH. It returns the name of
// the first missing required command, or "" if all are present.
func (r Requirements) Check() (missing string, ok bool) {
	for _, cmd := range r.Required {
		if _, err := exec.LookPath(cmd); err != nil {
			return cmd, false
		}
	}
	return "", true
}

// MissingOptional returns the subset of Optional commands not found on
// PATH, so callers can report which optional capabilities are degraded.
func (r Requirements) MissingOptional() []string {
	var missing []string
	for _, cmd := range r.Optional {
		if _, err := exec.LookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}
	return missing
}

// LinuxRequirements mirrors the authoritative original's REQUIRED_CMDS /
// OPTIONAL_CMDS split: lsblk/df/mount/file/uname/chmod/reboot are needed by
// every Linux run; mokutil and grub-install are only needed by the variants
// that use them and degrade gracefully when absent.
var LinuxRequirements = Requirements{
	Required: []string{"lsblk", "df", "mount", "file", "uname", "chmod", "reboot"},
	Optional: []string{"mokutil", "grub-install"},
}

// The sizing constants below name memory, drive-size and boot-space
// thresholds. No step of a run compares against them, so memory, drive
// size and boot free space are not checked.
const (
	// MemThreshold is the total memory (bytes) wanted beyond the OS image
	// size, matching the authoritative original's MEM_THRESHOLD.
	MemThreshold = 128 * 1024 * 1024
	// MinDiskSize is the smallest installation-drive size (bytes).
	MinDiskSize = 2 * 1024 * 1024 * 1024
	// BootSpaceMargin is the margin (bytes) over kernel+initrd size for
	// free space in the boot target directory.
	BootSpaceMargin = 8 * 1024
)
