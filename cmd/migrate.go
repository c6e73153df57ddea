package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/balenamigrate/stage1/pkg/migrate"
	"github.com/balenamigrate/stage1/pkg/reporter"
	"github.com/balenamigrate/stage1/pkg/types"
)

var migrateFlags migrate.Config
var failModeFlag string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Validate and stage a boot takeover for balenaOS migration",
	Long: `migrate runs every preflight check, then rewrites the host's boot
configuration so the staged migration kernel takes over on next boot. Nothing
is mutated until every check has passed; a failure after mutation starts
attempts to restore the boot configuration it backed up.`,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateFlags.WorkDir, "work-dir", "/mnt/balena-migrate", "staging directory for the migration payload")
	f.StringVar(&migrateFlags.KernelPath, "kernel", "", "path to the staged migration kernel")
	f.StringVar(&migrateFlags.InitRDPath, "initrd", "", "path to the staged migration initramfs")
	f.StringVar(&migrateFlags.DeviceTreeDir, "dtb-dir", "", "directory holding staged device tree blobs")
	f.StringVar(&migrateFlags.BalenaImage, "image", "", "path to the balenaOS image to deploy")
	f.StringVar(&migrateFlags.BalenaConfig, "image-config", "", "path to the balenaOS config.json")
	f.StringVar(&migrateFlags.KernelOpts, "kernel-opts", "", "extra kernel command-line options")
	f.StringVar(&migrateFlags.Stage2Path, "stage2-path", "/etc/balena-stage2.yml", "where to write the stage-2 descriptor")
	f.StringVar(&failModeFlag, "fail-mode", "", "stage-2 behavior on failure: Reboot, Rescue, or Halt (prompts interactively if omitted on a terminal)")

	_ = migrateCmd.MarkFlagRequired("kernel")
	_ = migrateCmd.MarkFlagRequired("initrd")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if failModeFlag == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptFailMode(&failModeFlag); err != nil {
				return err
			}
		} else {
			failModeFlag = string(types.DefaultFailMode)
		}
	}

	failMode, ok := types.ParseFailMode(failModeFlag)
	if !ok {
		return fmt.Errorf("invalid --fail-mode %q", failModeFlag)
	}
	migrateFlags.FailMode = failMode

	var rep reporter.Reporter
	if viper.GetBool("json") {
		rep = reporter.NewJSONReporter(os.Stdout)
	} else {
		rep = reporter.NewTextReporter(os.Stdout)
	}

	result, err := migrate.Run(cmd.Context(), migrateFlags, rep)
	if err != nil {
		return err
	}

	rep.Complete(fmt.Sprintf("migration staged for device profile %s", result.Profile.Slug), nil)
	return nil
}

// promptFailMode asks the operator, on an interactive terminal, what
// stage 2 should do if the balenaOS install fails after reboot.
func promptFailMode(out *string) error {
	*out = string(types.DefaultFailMode)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Stage-2 failure behavior").
				Description("What should happen if the balenaOS install fails after rebooting?").
				Options(
					huh.NewOption("Reboot back into the original OS", string(types.FailModeReboot)),
					huh.NewOption("Drop to a rescue shell", string(types.FailModeRescue)),
					huh.NewOption("Halt the machine", string(types.FailModeHalt)),
				).
				Value(out),
		),
	)
	return form.Run()
}
