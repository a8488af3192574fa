package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

var (
	approveServerURL string
	approveAPIKey    string
	approveDecision  string
)

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "List or resolve pending approval requests",
	Long: `Without arguments, lists actions suspended on the approval gateway.
With a request ID, submits a decision for it:

  once     allow this single action
  session  allow this tool for the rest of the session
  never    reject and remember the rejection for the session

Examples:
  axon approve
  axon approve 6d0f... --decision once
  axon approve 6d0f... --decision never`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().StringVar(&approveServerURL, "server-url", "http://localhost:8080", "Axon server URL")
	approveCmd.Flags().StringVar(&approveAPIKey, "api-key", "", "API key (or AXON_API_KEY env)")
	approveCmd.Flags().StringVar(&approveDecision, "decision", "once", `decision: "once", "session", or "never"`)
}

func runApprove(_ *cobra.Command, args []string) error {
	apiKey := goutils.Env("AXON_API_KEY", approveAPIKey)
	serverURL := goutils.Env("AXON_SERVER_URL", approveServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(args) == 0 {
		return listApprovals(ctx, serverURL, apiKey)
	}
	return resolveApproval(ctx, serverURL, apiKey, args[0])
}

func approvalRequest(ctx context.Context, method, url, apiKey string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return http.DefaultClient.Do(req)
}

// listApprovals prints all suspended requests with their expiry.
func listApprovals(ctx context.Context, serverURL, apiKey string) error {
	resp, err := approvalRequest(ctx, "GET", serverURL+"/v1/approvals", apiKey, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(ExitFailure)
	}

	var pending []struct {
		RequestID string    `json:"request_id"`
		SessionID string    `json:"session_id"`
		Tool      string    `json:"tool"`
		RiskLevel string    `json:"risk_level"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	for _, p := range pending {
		fmt.Printf("%s  tool=%s risk=%s session=%s expires=%s\n",
			p.RequestID, p.Tool, p.RiskLevel, p.SessionID,
			p.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}

// resolveApproval submits a decision for one suspended request.
func resolveApproval(ctx context.Context, serverURL, apiKey, requestID string) error {
	body, _ := json.Marshal(map[string]string{
		"request_id": requestID,
		"decision":   approveDecision,
	})

	resp, err := approvalRequest(ctx, "POST", serverURL+"/v1/approve", apiKey, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("Resolved %s as %q\n", requestID, approveDecision)
		return nil
	case http.StatusNotFound:
		fmt.Fprintln(os.Stderr, "Error: request not found (it may have expired)")
		os.Exit(ExitFailure)
	case http.StatusConflict:
		fmt.Fprintln(os.Stderr, "Error: request already resolved")
		os.Exit(ExitFailure)
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitUnapproved)
	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}
	return nil
}
