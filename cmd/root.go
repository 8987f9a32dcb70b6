package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gapless",
	Short: "Gapless audio player built on a lock-free SPSC ringbuffer",
	Long: `gapless - a gapless audio player using a lock-free SPSC
(Single-Producer Single-Consumer) ring buffer of canonical planar audio
between a decode thread and a realtime render callback.

Features:
  - Lock-free SPSC ring buffer of deinterleaved float64 frames
  - Gapless transitions between back-to-back tracks, no silence or overlap
  - Support for MP3, FLAC, and WAV source formats
  - Configurable ring buffer sizes and audio devices
  - SoXR-based sample rate conversion and bit-depth conversion

Commands:
  - play: Play one or more audio files back to back with no gap
  - convert: Convert an audio file's sample rate and write it out as WAV`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
