package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/amplihack/claude-gateway/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway service status",
	Long:  `Display the current status of the LLM gateway service.`,
	Run:   runStatus,
}

func runStatus(_ *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	if cfg != nil {
		fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
		fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
		fmt.Printf("  %-15s: %s\n", "Endpoint", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
		fmt.Printf("  %-15s: %s\n", "Provider", cfg.PreferredProvider)
		fmt.Printf("  %-15s: %s\n", "Base URL", cfg.BaseURL)
		fmt.Printf("  %-15s: %s / %s / %s\n", "Models", cfg.BigModel, cfg.MiddleModel, cfg.SmallModel)
	}

	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	if running && cfg != nil {
		printHealth(fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port))
	}
}

func printHealth(url string) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		color.Yellow("  Health check failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Fallback struct {
			Active              bool    `json:"active"`
			ConsecutiveFailures int     `json:"consecutive_failures"`
			CooldownRemaining   float64 `json:"cooldown_remaining_seconds"`
		} `json:"fallback"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		color.Yellow("  Health check returned unreadable response: %v", err)
		return
	}

	fmt.Printf("  %-15s: %s\n", "Health", health.Status)
	if health.Fallback.Active {
		color.Yellow("  %-15s: active after %d failures (%.0fs remaining)", "Fallback", health.Fallback.ConsecutiveFailures, health.Fallback.CooldownRemaining)
	}
}
