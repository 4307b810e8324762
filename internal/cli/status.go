package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model, staging and host resource status",
	Long:  `Query the running dermfox server for the published model and resource usage.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusResponse struct {
	Resources *struct {
		CPU struct {
			UsagePercent float64 `json:"usage_percent"`
		} `json:"cpu"`
		Memory struct {
			UsagePercent float64 `json:"usage_percent"`
			TotalBytes   uint64  `json:"total_bytes"`
			UsedBytes    uint64  `json:"used_bytes"`
		} `json:"memory"`
		Storage map[string]struct {
			Path       string `json:"path"`
			FreeBytes  uint64 `json:"free_bytes"`
			TotalBytes uint64 `json:"total_bytes"`
		} `json:"storage"`
		Process struct {
			PID        int32   `json:"pid"`
			RSSBytes   uint64  `json:"rss_bytes"`
			Goroutines int     `json:"goroutines"`
			CPUPercent float64 `json:"cpu_percent"`
		} `json:"process"`
	} `json:"resources"`
	Staged           int     `json:"staged"`
	MinFreeDiskBytes uint64  `json:"min_free_disk_bytes"`
	MaxMemoryPercent float64 `json:"max_memory_percent"`
	Uptime           string  `json:"uptime"`
}

type modelResponse struct {
	Version       int64  `json:"version"`
	Source        string `json:"source"`
	Params        int    `json:"params"`
	ServerVersion string `json:"server_version"`
	Weights       struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	} `json:"weights"`
}

const gib = 1024 * 1024 * 1024

func runStatus(cmd *cobra.Command, args []string) error {
	client := NewClient()

	data, status, err := client.Get("/status")
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, data)
	}

	modelData, status, err := client.Get("/model")
	if err != nil {
		return fmt.Errorf("failed to get model info: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, modelData)
	}

	if jsonOut {
		fmt.Printf(`{"status":%s,"model":%s}`+"\n", trimJSON(data), trimJSON(modelData))
		return nil
	}

	var st statusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	var m modelResponse
	if err := json.Unmarshal(modelData, &m); err != nil {
		return err
	}

	fmt.Println("=== Model ===")
	fmt.Printf("Version: %d (%s)\n", m.Version, m.Source)
	fmt.Printf("Params:  %d\n", m.Params)
	fmt.Printf("Weights: %s\n", m.Weights.Path)
	fmt.Printf("Server:  %s, up %s\n", m.ServerVersion, st.Uptime)
	fmt.Printf("Staged:  %d images\n", st.Staged)

	res := st.Resources
	if res == nil {
		return nil
	}

	fmt.Printf("\nCPU:\n")
	fmt.Printf("  Usage: %.1f%%\n", res.CPU.UsagePercent)

	fmt.Printf("\nMemory:\n")
	fmt.Printf("  Usage: %.1f%% (limit %.0f%%)\n", res.Memory.UsagePercent, st.MaxMemoryPercent)
	fmt.Printf("  Used:  %.1f / %.1f GB\n", float64(res.Memory.UsedBytes)/gib, float64(res.Memory.TotalBytes)/gib)

	if len(res.Storage) > 0 {
		fmt.Printf("\nStorage (min free %.1f GB):\n", float64(st.MinFreeDiskBytes)/gib)
		for _, label := range sortedKeys(res.Storage) {
			d := res.Storage[label]
			fmt.Printf("  %-8s %.1f GB free / %.1f GB total (%s)\n",
				label, float64(d.FreeBytes)/gib, float64(d.TotalBytes)/gib, d.Path)
		}
	}

	fmt.Printf("\nProcess %d:\n", res.Process.PID)
	fmt.Printf("  RSS:        %.1f MB\n", float64(res.Process.RSSBytes)/1024/1024)
	fmt.Printf("  CPU:        %.1f%%\n", res.Process.CPUPercent)
	fmt.Printf("  Goroutines: %d\n", res.Process.Goroutines)

	return nil
}

func trimJSON(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}
