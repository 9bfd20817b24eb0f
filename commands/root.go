package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jupark12/deck-viewer/config"
	"github.com/jupark12/deck-viewer/logging"
	"github.com/jupark12/deck-viewer/ui"
)

// errReported marks failures already shown to the user.
var errReported = errors.New("reported")

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deckview",
	Short: "Convert PowerPoint decks to PDF and page through the result",
	Long: `deckview uploads a PowerPoint presentation (.pptx) to the conversion service,
shows conversion progress and lets you page through the produced PDF.

Run "deckview serve" to start the conversion service itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		if noColor {
			ui.DisableColor()
		}
		cfg = loaded
		logger = logging.New(cfg.Log, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, viewCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
