package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent retraining runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

type historyRun struct {
	ID           int64     `json:"id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Samples      int       `json:"samples"`
	Skipped      int       `json:"skipped"`
	Epochs       int       `json:"epochs"`
	ValAccuracy  float64   `json:"val_accuracy"`
	ModelVersion int64     `json:"model_version"`
	Error        string    `json:"error"`
}

type historyResponse struct {
	Runs   []historyRun   `json:"runs"`
	Counts map[string]int `json:"counts"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	client := NewClient()

	data, status, err := client.Get(fmt.Sprintf("/retrain/history?limit=%d", historyLimit))
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, data)
	}

	if jsonOut {
		fmt.Println(string(data))
		return nil
	}

	var resp historyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}

	if len(resp.Runs) == 0 {
		fmt.Println("No retraining runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tSTATUS\tSAMPLES\tEPOCHS\tVAL ACC\tVERSION\tDURATION")
	for _, r := range resp.Runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%.1f%%\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Trigger,
			r.Status,
			r.Samples,
			r.Epochs,
			r.ValAccuracy*100,
			r.ModelVersion,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
		if verbose && r.Error != "" {
			fmt.Fprintf(w, "\t\t\terror: %s\n", r.Error)
		}
	}
	return w.Flush()
}
