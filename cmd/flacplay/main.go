// flacplay plays FLAC files through the system audio device.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Flags for the play command.
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flacplay <file.flac> [file.flac...]",
	Short: "Play FLAC files through the system audio device",
	Long: `flacplay decodes FLAC files and plays them through the default audio
device.

Playback Controls (followed by enter):
  p        pause or resume playback
  s or q   stop playback and continue with the next file

Examples:
  # Play a single file.
  flacplay song.flac

  # Play all FLAC files of an album with debug logging.
  flacplay -v album/*.flac`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if flagVerbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Playback control commands arrive on stdin for every file in turn.
	commands := make(chan string)
	go readCommands(commands)

	for _, path := range args {
		if err := play(path, commands); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
