package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/dermfox/internal/cli/tui"
)

var refreshInterval time.Duration

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Watch the model, staging area and retraining live",
	Long: `Open a terminal dashboard on a running server: the published model version,
staged images per lesion class, the retraining state with its last result,
recent passes from the history store, and host resources.

Credentials come from --user/--password, or from the auth section of the
file given with --config when the flags are empty.

Examples:
  dermfox tui
  dermfox tui --refresh 500ms
  dermfox tui --host 10.0.0.1 -c /etc/dermfox.yaml`,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().DurationVar(&refreshInterval, "refresh", time.Second, "dashboard refresh interval")
	rootCmd.AddCommand(tuiCmd)
}

// dashboardConfig builds the dashboard settings from flags and, for
// credentials, the --config file.
func dashboardConfig() (tui.Config, error) {
	cfg := tui.Config{
		ServerURL:       GetServerURL(),
		RefreshInterval: refreshInterval,
		User:            user,
		Password:        password,
	}
	if cfg.User != "" || cfgFile == "" {
		return cfg, nil
	}

	file, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if file.Auth.Enabled {
		cfg.User, cfg.Password = file.Auth.User, file.Auth.Password
	}
	return cfg, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := dashboardConfig()
	if err != nil {
		return err
	}
	return tui.Run(cfg)
}
