package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VOLC_APP_ID", "test-app")
	t.Setenv("VOLC_ACCESS_TOKEN", "test-token")
	t.Setenv("VOLC_VOICE_TYPE", "BV001_streaming")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.VolcAppID != "test-app" {
		t.Errorf("Expected VolcAppID 'test-app', got '%s'", cfg.VolcAppID)
	}

	if cfg.VolcAccessToken != "test-token" {
		t.Errorf("Expected VolcAccessToken 'test-token', got '%s'", cfg.VolcAccessToken)
	}

	if cfg.VolcVoiceType != "BV001_streaming" {
		t.Errorf("Expected VolcVoiceType 'BV001_streaming', got '%s'", cfg.VolcVoiceType)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("VOLC_APP_ID")
	os.Unsetenv("VOLC_ACCESS_TOKEN")
	os.Unsetenv("VOLC_VOICE_TYPE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.GRPCPort != "9090" {
		t.Errorf("Expected default GRPCPort '9090', got '%s'", cfg.GRPCPort)
	}

	if cfg.VolcEndpoint != "wss://openspeech.bytedance.com/api/v1/tts/ws_binary" {
		t.Errorf("Unexpected default VolcEndpoint '%s'", cfg.VolcEndpoint)
	}

	if cfg.VolcCluster != "volcano_tts" {
		t.Errorf("Expected default VolcCluster 'volcano_tts', got '%s'", cfg.VolcCluster)
	}

	if cfg.VolcSpeedRatio != 1.0 || cfg.VolcVolumeRatio != 1.0 || cfg.VolcPitchRatio != 1.0 {
		t.Errorf("Expected default ratios 1.0, got %v/%v/%v", cfg.VolcSpeedRatio, cfg.VolcVolumeRatio, cfg.VolcPitchRatio)
	}

	if cfg.SegmentThreshold != 64000 {
		t.Errorf("Expected default SegmentThreshold 64000, got %d", cfg.SegmentThreshold)
	}

	if cfg.SourceSampleRate != 24000 {
		t.Errorf("Expected default SourceSampleRate 24000, got %d", cfg.SourceSampleRate)
	}

	if cfg.OutputSampleRate != 16000 {
		t.Errorf("Expected default OutputSampleRate 16000, got %d", cfg.OutputSampleRate)
	}

	if cfg.OutputEncoding != EncodingPCM {
		t.Errorf("Expected default OutputEncoding 'pcm', got '%s'", cfg.OutputEncoding)
	}

	if cfg.SegmentStore != StoreMemory {
		t.Errorf("Expected default SegmentStore 'memory', got '%s'", cfg.SegmentStore)
	}

	if cfg.FrameReadTimeoutDuration() != 15*time.Second {
		t.Errorf("Expected default frame read timeout 15s, got %v", cfg.FrameReadTimeoutDuration())
	}

	if cfg.HandshakeTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected default handshake timeout 10s, got %v", cfg.HandshakeTimeoutDuration())
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected MetricsEnabled to default to true")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SEGMENT_THRESHOLD", "32000")
	t.Setenv("OUTPUT_ENCODING", "pcmu")
	t.Setenv("OUTPUT_SAMPLE_RATE", "8000")
	t.Setenv("SEGMENT_STORE", "nats")
	t.Setenv("VOLC_SPEED_RATIO", "1.2")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SegmentThreshold != 32000 {
		t.Errorf("Expected SegmentThreshold 32000, got %d", cfg.SegmentThreshold)
	}
	if cfg.OutputEncoding != EncodingPCMU {
		t.Errorf("Expected OutputEncoding 'pcmu', got '%s'", cfg.OutputEncoding)
	}
	if cfg.OutputSampleRate != 8000 {
		t.Errorf("Expected OutputSampleRate 8000, got %d", cfg.OutputSampleRate)
	}
	if cfg.SegmentStore != StoreNATS {
		t.Errorf("Expected SegmentStore 'nats', got '%s'", cfg.SegmentStore)
	}
	if cfg.VolcSpeedRatio != 1.2 {
		t.Errorf("Expected VolcSpeedRatio 1.2, got %v", cfg.VolcSpeedRatio)
	}
}

func TestLoad_InvalidEnums(t *testing.T) {
	setRequired(t)

	t.Setenv("SEGMENT_STORE", "s3")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unknown segment store")
	}

	t.Setenv("SEGMENT_STORE", "memory")
	t.Setenv("OUTPUT_ENCODING", "mp3")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unknown output encoding")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	value := GetEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_VAR", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
