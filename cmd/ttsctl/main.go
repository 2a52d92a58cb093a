package main

import (
	"os"

	"github.com/lexiqai/volc-tts-gateway/cmd/ttsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
