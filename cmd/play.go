package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/gapless/pkg/decoders"
	"github.com/drgolem/gapless/pkg/engine"
	"github.com/drgolem/gapless/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

var (
	playDeviceIdx   int
	playRingFrames  uint64
	playFrames      int
	playSampleRate  int
	playChannels    int
	playBitDepth    int
	playVerbose     bool
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <audio_file> [more_files...]",
	Short: "Play one or more audio files back to back with no gap",
	Long: `Gapless playback of MP3, FLAC, and WAV files using a lock-free ring
buffer and a realtime render callback. Files are enqueued in the order
given and played back to back; the transition between two files never
drops or repeats a frame.

Examples:
  # Play a single file
  gapless play music.flac

  # Queue an album, gaplessly
  gapless play track01.flac track02.flac track03.flac

  # Target a specific output device with a larger ring buffer
  gapless play -d 0 --ring-frames 524288 music.mp3

Buffer Recommendations:
  Low latency:    --ring-frames 65536  --frames 256   (tighter CPU budget)
  Balanced:       --ring-frames 262144 --frames 512   (default)
  High stability: --ring-frames 524288 --frames 1024  (heavier CPU load)`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().IntVarP(&playDeviceIdx, "device", "d", 1, "Audio output device index")
	playCmd.Flags().Uint64Var(&playRingFrames, "ring-frames", 1<<18, "Ring buffer capacity in frames (power of 2)")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", 512, "Audio frames per device buffer")
	playCmd.Flags().IntVar(&playSampleRate, "samplerate", 44100, "Canonical sample rate in Hz")
	playCmd.Flags().IntVar(&playChannels, "channels", 2, "Canonical channel count")
	playCmd.Flags().IntVar(&playBitDepth, "bits", 16, "Output bit depth (16, 24, or 32)")
	playCmd.Flags().BoolVarP(&playVerbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func runPlay(cmd *cobra.Command, args []string) {
	logLevel := slog.LevelInfo
	if playVerbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	for _, fileName := range args {
		if _, err := os.Stat(fileName); os.IsNotExist(err) {
			slog.Error("file not found", "path", fileName)
			os.Exit(1)
		}
	}

	slog.Info("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialize PortAudio", "error", err)
		slog.Error("hint: make sure PortAudio is installed on your system")
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	cfg := engine.DefaultConfig()
	cfg.DeviceIndex = playDeviceIdx
	cfg.RingCapacityFrames = playRingFrames
	cfg.FramesPerBuffer = playFrames
	cfg.CanonicalSampleRate = playSampleRate
	cfg.ChannelCount = playChannels
	cfg.OutputBitsPerSample = playBitDepth
	cfg.Diagnostics = func(ev types.DiagnosticEvent) {
		slog.Warn("engine diagnostic", "kind", ev.Kind, "message", ev.Message, "source", ev.SourceURL, "frame", ev.Frame)
	}

	slog.Info("audio configuration",
		"device_index", cfg.DeviceIndex,
		"ring_frames", cfg.RingCapacityFrames,
		"frames_per_buffer", cfg.FramesPerBuffer,
		"sample_rate", cfg.CanonicalSampleRate,
		"channels", cfg.ChannelCount)

	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("failed to start playback engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	for _, fileName := range args {
		slog.Info("opening audio file", "path", fileName)
		decoder, err := decoders.NewDecoder(fileName)
		if err != nil {
			slog.Error("failed to open decoder", "path", fileName, "error", err)
			os.Exit(1)
		}
		if err := eng.Enqueue(decoder, fileName); err != nil {
			slog.Error("failed to enqueue decoder", "path", fileName, "error", err)
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("starting playback")
	if err := eng.Play(); err != nil {
		slog.Error("failed to start playback", "error", err)
		os.Exit(1)
	}

	statusDone := make(chan struct{})
	go monitorEngineStatus(eng, len(args), statusDone)

	done := make(chan struct{})
	go func() {
		waitForQueueDrain(eng)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("playback completed successfully")
	case sig := <-sigChan:
		slog.Info("signal received, stopping playback", "signal", sig)
		if err := eng.Stop(); err != nil {
			slog.Error("failed to stop engine", "error", err)
		}
	}

	close(statusDone)
	slog.Info("exiting")
}

// waitForQueueDrain polls until the engine has no queued or active
// decoders left, which happens once every enqueued file has fully
// rendered.
func waitForQueueDrain(eng *engine.Engine) {
	// Give the decode thread a moment to pick up the first file before
	// polling Idle, which would otherwise report true immediately.
	time.Sleep(100 * time.Millisecond)
	for !eng.Idle() {
		time.Sleep(200 * time.Millisecond)
	}
}

func monitorEngineStatus(eng *engine.Engine, fileCount int, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("playback status",
				"url", eng.PlayingURL(),
				"current_frame", eng.CurrentFrame(),
				"total_frames", eng.TotalFrames(),
				"current_time", eng.CurrentTime(),
				"total_time", eng.TotalTime(),
				"underruns", eng.Underruns())
		case <-done:
			return
		}
	}
}
