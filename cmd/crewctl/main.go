// Package main implements the crewctl CLI for manual operations against
// the crewd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the crewd HTTP server
	serverURL string
	// ownerID is sent as the X-Owner-ID header on project operations
	ownerID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crewctl",
	Short: "CLI for crewd engagement operations",
	Long: `crewctl is a command-line interface for interacting with the crewd daemon.
It provides commands for creating projects, approving phases, answering agent
questions, and following the engagement board and chat.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "crewd server URL")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "owner id sent as X-Owner-ID")
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(reviseCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(healthCmd)
}

// doJSON sends a JSON request and decodes the response into out when the
// server returns a 2xx status. A nil out discards the body.
func doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ownerID != "" {
		req.Header.Set("X-Owner-ID", ownerID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check crewd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := doJSON(http.MethodGet, "/health", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("Server Status: %s\n", resp.Status)
		fmt.Printf("Server URL: %s\n", serverURL)
		return nil
	},
}
