package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haskel/dermfox/internal/logger"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/retrain"
	"github.com/haskel/dermfox/internal/staging"
	"github.com/haskel/dermfox/internal/storage"
)

var trainCmd = &cobra.Command{
	Use:   "train <dir>",
	Short: "Fit the model offline from a directory of labeled images",
	Long: `Train the model on every image in dir and write the weights file. dir is
laid out like the server's staging directory: images named
"<class_idx>_<uuid>.<ext>". Other files are ignored and the images are left
in place, so a copy of a staging directory can be used to bootstrap weights.

Examples:
  dermfox train ./dataset
  dermfox train ./dataset --epochs 30 --weights ./model.json`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

var (
	trainEpochs  int
	trainWeights string
)

func init() {
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "maximum epochs (overrides config)")
	trainCmd.Flags().StringVar(&trainWeights, "weights", "", "weights file (overrides config)")
	rootCmd.AddCommand(trainCmd)
}

// keepSamples leaves the dataset untouched after a pass.
type keepSamples struct {
	*staging.Area
}

func (keepSamples) Remove(samples []staging.Sample) (int, error) {
	return 0, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if trainWeights != "" {
		cfg.Model.WeightsPath = trainWeights
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	area, err := staging.Open(args[0], log)
	if err != nil {
		return err
	}
	if area.Count() == 0 {
		return fmt.Errorf("no labeled images found in %s", args[0])
	}

	store := storage.NewModelStorage(cfg.Model.WeightsPath, log)
	holder := model.New(store, model.Options{
		Architecture: cfg.Architecture(),
		Seed:         cfg.Model.Seed,
	}, log)
	if err := holder.Load(); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	trainCfg := cfg.TrainConfig()
	if trainEpochs > 0 {
		trainCfg.MaxEpochs = trainEpochs
	}

	trainer := retrain.NewTrainer(keepSamples{area}, holder, retrain.TrainerConfig{
		Train:   trainCfg,
		Workers: cfg.Retrain.Workers,
		Logger:  log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := trainer.Run(ctx)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if jsonOut {
		return printJSON(res)
	}

	fmt.Printf("Trained on %d images (%d skipped)\n", res.Samples, res.Skipped)
	for _, cls := range sortedKeys(res.ClassCounts) {
		fmt.Printf("  %-60s %d\n", cls, res.ClassCounts[cls])
	}
	if s := res.Summary; s != nil {
		fmt.Printf("Epochs: %d (best %d), val loss %.4f, val accuracy %.1f%%\n",
			s.Epochs, s.BestEpoch, s.BestValLoss, s.BestAccuracy*100)
	}
	fmt.Printf("Model version %d written to %s\n", res.Version, cfg.Model.WeightsPath)
	return nil
}
