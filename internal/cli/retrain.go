package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Start a retraining pass now",
	Long: `Ask the server to retrain on the staged images regardless of the
threshold. Only one pass runs at a time.

Examples:
  dermfox retrain
  dermfox retrain status
  dermfox retrain cancel`,
	Args: cobra.NoArgs,
	RunE: runRetrain,
}

var retrainStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the retraining scheduler state",
	Args:  cobra.NoArgs,
	RunE:  runRetrainStatus,
}

var retrainCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running retraining pass",
	Args:  cobra.NoArgs,
	RunE:  runRetrainCancel,
}

func init() {
	retrainCmd.AddCommand(retrainStatusCmd)
	retrainCmd.AddCommand(retrainCancelCmd)
	rootCmd.AddCommand(retrainCmd)
}

type retrainStatus struct {
	State        string    `json:"state"`
	Staged       int       `json:"staged"`
	Threshold    int       `json:"threshold"`
	RunStarted   time.Time `json:"run_started"`
	RunTrigger   string    `json:"run_trigger"`
	Runs         int64     `json:"runs"`
	Successes    int64     `json:"successes"`
	Failures     int64     `json:"failures"`
	LastRun      time.Time `json:"last_run"`
	LastStatus   string    `json:"last_status"`
	LastError    string    `json:"last_error"`
	ModelVersion int64     `json:"model_version"`
}

type retrainReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func runRetrain(cmd *cobra.Command, args []string) error {
	return postRetrain("/retrain")
}

func runRetrainCancel(cmd *cobra.Command, args []string) error {
	return postRetrain("/retrain/cancel")
}

func postRetrain(path string) error {
	client := NewClient()

	data, status, err := client.Post(path, nil)
	if err != nil {
		return err
	}

	if jsonOut {
		fmt.Println(string(data))
	}

	switch status {
	case http.StatusAccepted, http.StatusConflict:
		if !jsonOut {
			var reply retrainReply
			if err := json.Unmarshal(data, &reply); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			fmt.Println(reply.Message)
		}
		return nil
	default:
		return apiError(status, data)
	}
}

func runRetrainStatus(cmd *cobra.Command, args []string) error {
	client := NewClient()

	data, status, err := client.Get("/retrain/status")
	if err != nil {
		return fmt.Errorf("failed to get retrain status: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, data)
	}

	if jsonOut {
		fmt.Println(string(data))
		return nil
	}

	var st retrainStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	printRetrainStatus(&st)
	return nil
}

func printRetrainStatus(st *retrainStatus) {
	fmt.Println("=== Retraining ===")
	fmt.Printf("State:         %s\n", st.State)
	if st.State == "running" {
		fmt.Printf("  Trigger:     %s\n", st.RunTrigger)
		fmt.Printf("  Running for: %s\n", time.Since(st.RunStarted).Round(time.Second))
	}
	fmt.Printf("Staged:        %d / %d\n", st.Staged, st.Threshold)
	fmt.Printf("Model version: %d\n", st.ModelVersion)
	fmt.Printf("Runs:          %d (%d ok, %d failed)\n", st.Runs, st.Successes, st.Failures)
	if !st.LastRun.IsZero() {
		fmt.Printf("Last run:      %s (%s)\n", st.LastRun.Local().Format(time.DateTime), st.LastStatus)
	}
	if st.LastError != "" {
		fmt.Printf("Last error:    %s\n", st.LastError)
	}
}
