package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Classify a skin lesion image",
	Long: `Send an image to the running server and print the predicted class.

Examples:
  dermfox predict lesion.jpg
  dermfox predict lesion.png --all`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var showAll bool

func init() {
	predictCmd.Flags().BoolVar(&showAll, "all", false, "show the probability of every class")
	rootCmd.AddCommand(predictCmd)
}

type classProbability struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

type predictResponse struct {
	PredictedClass string             `json:"predicted_class"`
	Probability    float64            `json:"probability"`
	Probabilities  []classProbability `json:"probabilities"`
	ModelVersion   int64              `json:"model_version"`
}

func runPredict(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	client := NewClient()
	body, status, err := client.PostImage("/predict", data)
	if err != nil {
		return fmt.Errorf("failed to predict: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	if jsonOut {
		fmt.Println(string(body))
		return nil
	}

	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("%s (%.1f%%)\n", resp.PredictedClass, resp.Probability*100)
	if verbose {
		fmt.Printf("Model version: %d\n", resp.ModelVersion)
	}
	if showAll {
		for _, p := range resp.Probabilities {
			fmt.Printf("  %6.2f%%  %s\n", p.Probability*100, p.Class)
		}
	}

	return nil
}
