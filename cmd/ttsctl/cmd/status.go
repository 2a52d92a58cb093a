package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/volc-tts-gateway/internal/grpchealth"
	"github.com/lexiqai/volc-tts-gateway/internal/observability"
)

var (
	statusHTTP string
	statusGRPC string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running gateway",
	Long: `Checks a running gateway over its HTTP readiness endpoint and its
gRPC health service.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHTTP, "http", "http://localhost:8080", "Gateway HTTP base URL")
	statusCmd.Flags().StringVar(&statusGRPC, "grpc", "localhost:9090", "Gateway gRPC address")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	healthy := true

	client := grpchealth.NewClient(statusGRPC)
	defer client.Close()
	status, err := client.Check(ctx, grpchealth.ServiceName)
	if err != nil {
		healthy = false
		fmt.Fprintf(out, "  [-] gRPC %-20s %v\n", statusGRPC, err)
	} else {
		fmt.Fprintf(out, "  [+] gRPC %-20s %s\n", statusGRPC, status)
	}

	ready, err := checkReady(ctx, statusHTTP+"/ready")
	if err != nil {
		healthy = false
		fmt.Fprintf(out, "  [-] HTTP %-20s %v\n", statusHTTP, err)
	} else {
		icon := "[+]"
		if ready.Status != "ready" {
			icon = "[-]"
			healthy = false
		}
		fmt.Fprintf(out, "  %s HTTP %-20s %s\n", icon, statusHTTP, ready.Status)
		for name, dep := range ready.Dependencies {
			fmt.Fprintf(out, "        %-12s %s %s\n", name, dep.Status, dep.Message)
		}
	}

	if !healthy {
		return fmt.Errorf("gateway is not healthy")
	}
	return nil
}

func checkReady(ctx context.Context, url string) (*observability.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status observability.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode readiness: %w", err)
	}
	return &status, nil
}
