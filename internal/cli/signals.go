package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	pidFile  string
	stopWait time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dermfox server",
	Long: `Send SIGTERM to the server named in the PID file. A retraining pass in
progress is cancelled and the published weights stay on disk; staged images
are kept for the next start.

With --wait the command returns once the server has removed its PID file.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the dermfox server configuration",
	Long: `Send SIGHUP to the server named in the PID file. Auth credentials, the
retrain threshold and the resource guard limits take effect immediately;
other settings need a restart.`,
	Args: cobra.NoArgs,
	RunE: runReload,
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, reloadCmd} {
		c.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (overrides config)")
		rootCmd.AddCommand(c)
	}
	stopCmd.Flags().DurationVar(&stopWait, "wait", 0, "wait up to this long for the server to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	path, pid, err := signalServer(syscall.SIGTERM)
	if err != nil {
		return err
	}

	status := "stopping"
	if stopWait > 0 {
		if err := waitForExit(path, stopWait); err != nil {
			return err
		}
		status = "stopped"
	}

	if jsonOut {
		return printJSON(map[string]any{"status": status, "pid": pid})
	}
	fmt.Printf("Sent SIGTERM to dermfox (pid %d), %s\n", pid, status)
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	_, pid, err := signalServer(syscall.SIGHUP)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"status": "reload_requested", "pid": pid})
	}
	fmt.Printf("Sent SIGHUP to dermfox (pid %d), configuration reload requested\n", pid)
	return nil
}

// resolvePIDFile returns --pid-file or server.pid_file from the config.
func resolvePIDFile() (string, error) {
	if pidFile != "" {
		return pidFile, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Server.PIDFile == "" {
		return "", errors.New("no PID file configured (use --pid-file or server.pid_file)")
	}
	return cfg.Server.PIDFile, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file not found: %s (server may not be running)", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, raw)
	}
	return pid, nil
}

// signalServer sends sig to the process named in the PID file and returns
// the file path and the PID.
func signalServer(sig syscall.Signal) (string, int, error) {
	path, err := resolvePIDFile()
	if err != nil {
		return "", 0, err
	}
	pid, err := readPIDFile(path)
	if err != nil {
		return "", 0, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return "", 0, fmt.Errorf("process not found: %d", pid)
	}
	if err := process.Signal(sig); err != nil {
		return "", 0, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return path, pid, nil
}

// waitForExit polls until the server removes its PID file on shutdown.
func waitForExit(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server still running after %s (PID file %s remains)", timeout, path)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
