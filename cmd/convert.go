package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/drgolem/gapless/pkg/decoders"
	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/resample"

	"github.com/spf13/cobra"
	wavwriter "github.com/youpy/go-wav"
)

const convertChunkFrames = 4096

var convertCmd = &cobra.Command{
	Use:   "convert <input_file>",
	Short: "Convert an audio file's sample rate and write it out as WAV",
	Long: `Decode an MP3, FLAC, or WAV file, resample it through the same
high-quality SoXR path the playback engine uses, and write the result
out as 16-bit PCM WAV.

Examples:
  # Convert an MP3 to 48kHz WAV
  gapless convert input.mp3 --samplerate 48000 --out output.wav

  # Convert a FLAC file at the default 48kHz target rate
  gapless convert input.flac --out output.wav

Sample Rate Options:
  Common rates: 8000, 16000, 22050, 44100, 48000, 96000, 192000 Hz`,
	Args: cobra.ExactArgs(1),
	Run:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().Int("samplerate", 48000, "Target sample rate in Hz")
	convertCmd.Flags().String("out", "out_converted.wav", "Output WAV file path")
}

func runConvert(cmd *cobra.Command, args []string) {
	inFileName := args[0]

	if _, err := os.Stat(inFileName); os.IsNotExist(err) {
		slog.Error("input file not found", "path", inFileName)
		os.Exit(1)
	}

	targetRate, err := cmd.Flags().GetInt("samplerate")
	if err != nil {
		slog.Error("failed to read samplerate flag", "error", err)
		os.Exit(1)
	}
	if targetRate <= 0 || targetRate > 384000 {
		slog.Error("invalid sample rate", "rate", targetRate, "valid_range", "1-384000")
		os.Exit(1)
	}

	outFileName, err := cmd.Flags().GetString("out")
	if err != nil {
		slog.Error("failed to read out flag", "error", err)
		os.Exit(1)
	}

	decoder, err := decoders.NewDecoder(inFileName)
	if err != nil {
		slog.Error("failed to open decoder", "error", err)
		os.Exit(1)
	}
	defer decoder.Close()

	srcFormat := decoder.SourceFormat()
	slog.Info("conversion starting",
		"input_file", inFileName,
		"input_sample_rate", srcFormat.SampleRate,
		"input_channels", srcFormat.Channels,
		"input_bits_per_sample", srcFormat.BitsPerSample,
		"output_sample_rate", targetRate,
		"output_file", outFileName)

	resampler, err := resample.New(srcFormat.SampleRate, targetRate, srcFormat.Channels)
	if err != nil {
		slog.Error("failed to build resampler", "error", err)
		os.Exit(1)
	}
	defer resampler.Close()

	pcm := pcmconv.NewInt16(srcFormat.Channels)

	outFile, err := os.OpenFile(outFileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		slog.Error("failed to create output file", "error", err)
		os.Exit(1)
	}
	defer outFile.Close()

	st := decoderstate.New(decoder, srcFormat, convertChunkFrames)
	outBuf := make([]byte, convertChunkFrames*srcFormat.Channels*2)
	outSamples := 0
	audioData := make([]byte, 0, convertChunkFrames*srcFormat.Channels*2*16)

	for {
		n, decErr := st.DecodeInto(st.RawScratch())
		if n > 0 {
			canonical, outFrames, convErr := resampler.Convert(st.Scratch(), n)
			if convErr != nil {
				slog.Error("failed to resample audio", "error", convErr)
				os.Exit(1)
			}
			need := outFrames * srcFormat.Channels * 2
			if need > len(outBuf) {
				outBuf = make([]byte, need)
			}
			pcm.Convert(canonical, outBuf, outFrames)
			audioData = append(audioData, outBuf[:need]...)
			outSamples += outFrames
		}
		if decErr != nil || n == 0 {
			break
		}
	}

	slog.Info("conversion complete", "output_samples", outSamples, "output_bytes", len(audioData))

	writer := wavwriter.NewWriter(outFile, uint32(outSamples), uint16(srcFormat.Channels), uint32(targetRate), 16)
	if _, err := writer.Write(audioData); err != nil {
		slog.Error("failed to write WAV file", "error", err)
		os.Exit(1)
	}

	slog.Info("wrote output file", "path", outFileName, "sample_rate_ratio", fmt.Sprintf("%.3f", float64(targetRate)/float64(srcFormat.SampleRate)))
}
