package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/haskel/dermfox/internal/lesion"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <class_idx> <image>...",
	Short: "Upload labeled training images",
	Long: `Upload one or more images labeled with a class index (0-6). The server
stages them and retrains once enough have been collected.

Examples:
  dermfox upload 6 melanoma_01.jpg melanoma_02.jpg
  dermfox upload 4 nevus.png`,
	Args: cobra.MinimumNArgs(2),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

type uploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	class, err := lesion.Parse(args[0])
	if err != nil {
		return err
	}

	client := NewClient()
	path := fmt.Sprintf("/upload_training_image/%d", int(class))

	var failed int
	for _, file := range args[1:] {
		if err := uploadOne(client, path, file); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args)-1)
	}
	return nil
}

func uploadOne(client *Client, path, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	body, status, err := client.PostImage(path, data)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	if jsonOut {
		fmt.Println(string(body))
		return nil
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Printf("%s -> %s\n", file, resp.Filename)
	return nil
}
