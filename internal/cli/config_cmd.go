package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haskel/dermfox/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Check and summarize the server configuration",
	Long: `Load the file given with --config (or the built-in defaults), validate it
and print the settings that shape training and serving. Secrets are
redacted in every output form.

Examples:
  dermfox config -c dermfox.yaml             # summary
  dermfox config -c dermfox.yaml --validate  # exit status only
  dermfox config -c dermfox.yaml --full      # every setting as YAML`,
	RunE: runConfig,
}

var (
	validateOnly bool
	fullConfig   bool
)

func init() {
	configCmd.Flags().BoolVar(&validateOnly, "validate", false, "only validate, print nothing on success")
	configCmd.Flags().BoolVar(&fullConfig, "full", false, "print every setting as YAML")
	rootCmd.AddCommand(configCmd)
}

// ConfigReport is the --json form of the config command.
type ConfigReport struct {
	Source string         `json:"source"`
	Valid  bool           `json:"valid"`
	Error  string         `json:"error,omitempty"`
	Config *config.Config `json:"config,omitempty"`
}

const redacted = "********"

// redact returns a copy of cfg with credentials masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Auth.Password != "" {
		out.Auth.Password = redacted
	}
	if out.Debug.Auth.Token != "" {
		out.Debug.Auth.Token = redacted
	}
	return &out
}

func configSource() string {
	if cfgFile == "" {
		return "defaults"
	}
	return cfgFile
}

func runConfig(cmd *cobra.Command, args []string) error {
	report := ConfigReport{Source: configSource()}

	cfg, err := loadConfig()
	if err != nil {
		report.Error = err.Error()
		if jsonOut {
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		return fmt.Errorf("configuration invalid: %w", err)
	}
	report.Valid = true

	if validateOnly {
		if jsonOut {
			return printJSON(report)
		}
		return nil
	}

	safe := redact(cfg)
	if jsonOut {
		report.Config = safe
		return printJSON(report)
	}
	if fullConfig {
		data, err := yaml.Marshal(safe)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	printConfigSummary(report.Source, safe)
	return nil
}

func printConfigSummary(source string, cfg *config.Config) {
	arch := cfg.Architecture()
	tc := cfg.TrainConfig()

	fmt.Printf("Source:     %s\n", source)
	fmt.Printf("Listen:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Upload:     %d MB max\n", cfg.Server.MaxUploadMB)
	if cfg.Auth.Enabled {
		fmt.Printf("Auth:       basic (%s)\n", cfg.Auth.User)
	} else {
		fmt.Println("Auth:       off")
	}
	fmt.Println()
	fmt.Printf("Weights:    %s\n", cfg.Model.WeightsPath)
	fmt.Printf("Network:    %dx%d input, conv %d/%d, hidden %d, %d classes\n",
		arch.InputSize, arch.InputSize, arch.Conv1Filters, arch.Conv2Filters, arch.Hidden, arch.Classes)
	fmt.Printf("Staging:    %s\n", cfg.Staging.Dir)
	fmt.Println()
	fmt.Printf("Retrain at: %d staged images (checked every %s)\n", cfg.Retrain.Threshold, cfg.CheckInterval())
	fmt.Printf("Training:   up to %d epochs, batch %d, lr %g, patience %d\n",
		tc.MaxEpochs, tc.BatchSize, tc.LearningRate, tc.Patience)
	fmt.Printf("Timeout:    %s\n", cfg.RetrainTimeout())
	fmt.Printf("Disk guard: %d MB free\n", cfg.Guards.MinFreeDiskMB)
	fmt.Printf("History:    %s (%d days)\n", cfg.History.Path, cfg.History.RetentionDays)
}
