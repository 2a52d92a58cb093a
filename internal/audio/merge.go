package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// Format describes raw PCM segments.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// SourceFormat is what the synthesis service streams: 24 kHz mono 16-bit.
var SourceFormat = Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

// Artifact is the merged output of one completed session.
type Artifact struct {
	Path     string
	Format   Format
	Samples  int
	Duration time.Duration
}

// MergeSegments writes the ordered PCM segments into one WAV file at path.
// Segment boundaries need not fall on sample boundaries; the byte stream is
// concatenated first and a trailing half sample is dropped.
func MergeSegments(segments [][]byte, path string, format Format) (*Artifact, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid format %+v", format)
	}

	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	pcm := make([]byte, 0, total)
	for _, seg := range segments {
		pcm = append(pcm, seg...)
	}
	pcm = pcm[:len(pcm)-len(pcm)%2]

	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize artifact %s: %w", path, err)
	}

	frames := len(samples) / format.Channels
	return &Artifact{
		Path:     path,
		Format:   format,
		Samples:  len(samples),
		Duration: time.Duration(frames) * time.Second / time.Duration(format.SampleRate),
	}, nil
}
