package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const historyRows = 20

// Messages for tea.Cmd
type statusMsg struct {
	data *StatusData
	err  error
}

type retrainMsg struct {
	data *RetrainData
	err  error
}

type modelMsg struct {
	data *ModelData
	err  error
}

type historyMsg struct {
	data *HistoryData
	err  error
}

type actionMsg struct {
	notice string
	err    error
}

type tickMsg time.Time

// API client for TUI
type apiClient struct {
	baseURL  string
	client   *http.Client
	user     string
	password string
}

func newAPIClient(cfg Config) *apiClient {
	return &apiClient{
		baseURL: cfg.ServerURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		user:     cfg.User,
		password: cfg.Password,
	}
}

func (c *apiClient) request(method, path string) ([]byte, int, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}

	if c.user != "" && c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

func (c *apiClient) get(path string) ([]byte, error) {
	data, status, err := c.request(http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", status)
	}
	return data, nil
}

// getJSON fetches path and decodes it into a new T.
func getJSON[T any](cfg Config, path string) (*T, error) {
	data, err := newAPIClient(cfg).get(path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &v, nil
}

func fetchStatus(cfg Config) tea.Cmd {
	return func() tea.Msg {
		data, err := getJSON[StatusData](cfg, "/status")
		return statusMsg{data: data, err: err}
	}
}

func fetchRetrain(cfg Config) tea.Cmd {
	return func() tea.Msg {
		data, err := getJSON[RetrainData](cfg, "/retrain/status")
		return retrainMsg{data: data, err: err}
	}
}

func fetchModel(cfg Config) tea.Cmd {
	return func() tea.Msg {
		data, err := getJSON[ModelData](cfg, "/model")
		return modelMsg{data: data, err: err}
	}
}

func fetchHistory(cfg Config) tea.Cmd {
	return func() tea.Msg {
		data, err := getJSON[HistoryData](cfg, fmt.Sprintf("/retrain/history?limit=%d", historyRows))
		return historyMsg{data: data, err: err}
	}
}

func fetchAll(cfg Config) tea.Cmd {
	return tea.Batch(
		fetchStatus(cfg),
		fetchRetrain(cfg),
		fetchModel(cfg),
		fetchHistory(cfg),
	)
}

// postAction issues a retrain control request and reports the server's
// message.
func postAction(cfg Config, path string) tea.Cmd {
	return func() tea.Msg {
		data, status, err := newAPIClient(cfg).request(http.MethodPost, path)
		if err != nil {
			return actionMsg{err: err}
		}
		var reply struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(data, &reply)
		switch {
		case status == http.StatusAccepted || status == http.StatusConflict:
			return actionMsg{notice: reply.Message}
		case reply.Error != "":
			return actionMsg{err: fmt.Errorf("%s", reply.Error)}
		default:
			return actionMsg{err: fmt.Errorf("server returned status %d", status)}
		}
	}
}

// tick creates a periodic tick command
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
