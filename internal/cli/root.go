package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vbonduro/critterkeep/internal/config"
	"github.com/vbonduro/critterkeep/internal/logging"
)

// state is shared by every command of one invocation. app is set by the
// root command's pre-run hook.
type state struct {
	app        *app
	logCleanup func()
	noColor    bool
}

// Execute is the entry point called from main.
func Execute() {
	st := &state{}
	err := newRootCmd(st).Execute()
	st.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The caller closes st once the command
// has run.
func newRootCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "critterkeep",
		Short: "Track a collectible-figure collection against the remote catalog",
		Long: `critterkeep keeps a local record of the catalog variants you own or want,
with photos, purchase details and zip backups.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if st.noColor {
				color.NoColor = true
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			st.logCleanup = cleanup

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			st.app = a
			return nil
		},
	}
	cmd.PersistentFlags().BoolVar(&st.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newSyncCmd(st),
		newStatusCmd(st),
		newItemsCmd(st),
		newScanCmd(st),
		newSearchCmd(st),
		newPhotosCmd(st),
		newBackupCmd(st),
		newCacheCmd(st),
		newResetCmd(st),
	)
	return cmd
}

func (st *state) close() {
	if st.app != nil {
		st.app.close()
		st.app = nil
	}
	if st.logCleanup != nil {
		st.logCleanup()
		st.logCleanup = nil
	}
}

// ok prints a green success line.
func ok(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.GreenString("✓"), fmt.Sprintf(format, a...))
}

// warn prints a yellow warning line.
func warn(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.YellowString("!"), fmt.Sprintf(format, a...))
}

// header prints a cyan section heading.
func header(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.CyanString(fmt.Sprintf(format, a...)))
}
