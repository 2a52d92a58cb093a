package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/volc-tts-gateway/internal/audio"
	"github.com/lexiqai/volc-tts-gateway/internal/config"
	"github.com/lexiqai/volc-tts-gateway/internal/observability"
	"github.com/lexiqai/volc-tts-gateway/internal/segment"
	"github.com/lexiqai/volc-tts-gateway/internal/tts"
)

var (
	sayText      string
	sayOut       string
	sayVoiceType string
	sayThreshold int
	sayTempDir   string
)

var sayCmd = &cobra.Command{
	Use:   "say",
	Short: "Synthesize text into a WAV file",
	Long: `Streams one synthesis from Volcengine, printing each segment as it
arrives, and merges the segments into a WAV file.`,
	Example: `  ttsctl say --text "Hello there" --out hello.wav
  ttsctl say --text "你好" --out hi.wav --voice-type BV700_streaming`,
	RunE: runSay,
}

func init() {
	sayCmd.Flags().StringVarP(&sayText, "text", "t", "", "Text to synthesize")
	sayCmd.Flags().StringVarP(&sayOut, "out", "o", "", "Output WAV path")
	sayCmd.Flags().StringVar(&sayVoiceType, "voice-type", "", "Voice type (default: VOLC_VOICE_TYPE)")
	sayCmd.Flags().IntVar(&sayThreshold, "threshold", 0, "Segment threshold in bytes (default: SEGMENT_THRESHOLD)")
	sayCmd.Flags().StringVar(&sayTempDir, "temp-dir", "", "Keep segments on disk in this directory")
	_ = sayCmd.MarkFlagRequired("text")
	_ = sayCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(sayCmd)
}

func runSay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		printError("loading configuration", err)
		return err
	}
	if sayThreshold > 0 {
		cfg.SegmentThreshold = sayThreshold
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(os.Stderr, level)

	var alloc segment.Allocator
	if sayTempDir != "" {
		if err := os.MkdirAll(sayTempDir, 0o755); err != nil {
			printError("creating temp dir", err)
			return err
		}
		alloc = segment.DirAllocator(sayTempDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := tts.NewVolcClient(cfg, alloc, logger)
	out := cmd.OutOrStdout()
	sum, err := client.Stream(ctx, tts.Request{
		Text:         sayText,
		VoiceType:    sayVoiceType,
		ArtifactPath: sayOut,
	}, func(chunk *tts.AudioChunk) error {
		fmt.Fprintf(out, "  segment %d: %d bytes %s @ %d Hz, rms %.0f\n",
			chunk.Index, len(chunk.Data), chunk.Encoding, chunk.SampleRate, segmentRMS(chunk))
		return nil
	})
	if err != nil {
		printError("synthesis failed", err)
		return err
	}

	fmt.Fprintf(out, "Session %s: %d frames, %d segments\n", sum.SessionID, sum.Frames, sum.Segments)
	if sum.Artifact != nil {
		fmt.Fprintf(out, "Wrote %s (%d samples, %s)\n", sum.Artifact.Path, sum.Artifact.Samples, sum.Artifact.Duration)
	} else {
		fmt.Fprintln(out, "No audio received; nothing written")
	}
	return nil
}

func segmentRMS(chunk *tts.AudioChunk) float64 {
	pcm := chunk.Data
	if chunk.Encoding == tts.EncodingPCMU {
		var err error
		if pcm, err = audio.ConvertPCMUToPCM(pcm); err != nil {
			return 0
		}
	}
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return 0
	}
	return audio.CalculateRMS(samples)
}
