package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(sample))
	}
	return pcmData
}

func TestConvertPCMToPCMU(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}

	pcmuData, err := ConvertPCMToPCMU(pcmBytes(samples), 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	if len(pcmuData) != len(samples) {
		t.Errorf("Expected PCMU length %d, got %d", len(samples), len(pcmuData))
	}
}

func TestConvertPCMToPCMU_OddLength(t *testing.T) {
	_, err := ConvertPCMToPCMU([]byte{0x01, 0x02, 0x03}, 8000, 8000)
	if !errors.Is(err, ErrOddPCMLength) {
		t.Errorf("Expected ErrOddPCMLength, got %v", err)
	}
}

func TestConvertPCMToPCMU_Resample(t *testing.T) {
	samples := make([]int16, 2400) // 0.1 seconds at 24kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	pcmuData, err := ConvertPCMToPCMU(pcmBytes(samples), 24000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	expectedLen := 800
	tolerance := 50
	if len(pcmuData) < expectedLen-tolerance || len(pcmuData) > expectedLen+tolerance {
		t.Errorf("Expected PCMU length around %d, got %d", expectedLen, len(pcmuData))
	}
}

func TestConvertPCMUToPCM(t *testing.T) {
	pcmuData := []byte{0x7F, 0xFF, 0x00, 0x80, 0x7E}

	pcmData, err := ConvertPCMUToPCM(pcmuData)
	if err != nil {
		t.Fatalf("ConvertPCMUToPCM failed: %v", err)
	}

	if len(pcmData) != len(pcmuData)*2 {
		t.Errorf("Expected PCM length %d, got %d", len(pcmuData)*2, len(pcmData))
	}
}

func TestMulaw_RoundTripSmallValues(t *testing.T) {
	for _, sample := range []int16{-2048, -512, -128, 0, 128, 512, 2048} {
		linear := mulawToLinear(linearToMulaw(sample))
		diff := int(sample) - int(linear)
		if diff < 0 {
			diff = -diff
		}
		if diff > 128 {
			t.Errorf("Round-trip of %d gave %d (diff %d)", sample, linear, diff)
		}
	}
}

func TestResample24kTo16k(t *testing.T) {
	samples := make([]int16, 2400) // 100ms at 24kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	out, err := Resample(pcmBytes(samples), 24000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 1600*2 {
		t.Errorf("Expected %d bytes (1600 samples), got %d", 1600*2, len(out))
	}
}

func TestResample_FloorsOutputLength(t *testing.T) {
	// 5 samples at 24kHz is 3.33 samples at 16kHz.
	out, err := Resample(pcmBytes([]int16{1, 2, 3, 4, 5}), 24000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 3*2 {
		t.Errorf("Expected %d bytes (3 samples), got %d", 3*2, len(out))
	}
}

func TestResample_SameRateCopies(t *testing.T) {
	in := pcmBytes([]int16{1, -2, 3})
	out, err := Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("Expected unchanged PCM")
	}
}

func TestResample_InvalidInput(t *testing.T) {
	if _, err := Resample([]byte{0x01}, 24000, 16000); !errors.Is(err, ErrOddPCMLength) {
		t.Errorf("Expected ErrOddPCMLength, got %v", err)
	}
	if _, err := Resample([]byte{0x01, 0x02}, 0, 16000); err == nil {
		t.Error("Expected error for zero source rate")
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	resampled := resample(samples, 8000, 16000)
	if len(resampled) < 180 || len(resampled) > 220 {
		t.Errorf("Expected resampled length around 200, got %d", len(resampled))
	}

	resampled2 := resample(samples, 16000, 8000)
	if len(resampled2) < 40 || len(resampled2) > 60 {
		t.Errorf("Expected resampled length around 50, got %d", len(resampled2))
	}

	resampled3 := resample(samples, 8000, 8000)
	if len(resampled3) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(resampled3))
	}
}

func TestBytesToSamples(t *testing.T) {
	samples, err := BytesToSamples([]byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80})
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i, exp := range expected {
		if samples[i] != exp {
			t.Errorf("Expected sample %d at index %d, got %d", exp, i, samples[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	bytes := SamplesToBytes([]int16{0, 32767, -32768})

	expected := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if len(bytes) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(bytes))
	}
	for i, exp := range expected {
		if bytes[i] != exp {
			t.Errorf("Expected byte %d at index %d, got %d", exp, i, bytes[i])
		}
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	expected := math.Sqrt((1000000 + 1000000 + 4000000 + 4000000) / 4.0)
	if math.Abs(rms-expected) > 0.1 {
		t.Errorf("Expected RMS %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty slice, got %.2f", rms)
	}
}
