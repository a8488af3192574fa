package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the chat command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUnapproved  = 2
	ExitUnavailable = 3
)

var (
	chatMessage   string
	chatServerURL string
	chatAPIKey    string
	chatStream    bool
	chatTimeout   int
	chatSessionID string
	chatAgentID   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a message to a running Axon server",
	Long: `Send a message to the Axon server for a controlled-execution turn.
Every tool call the model proposes is risk-gated on the server; actions
that need approval suspend until someone resolves them via 'POST /v1/approve'.

Examples:
  axon chat -m "summarize the audit log for today"
  axon chat -m "fetch the release notes from github.com" --stream
  axon chat -m "continue where we left off" --session-id 4f7c...

Exit codes:
  0  success
  1  execution failure
  2  action rejected or still awaiting approval
  3  server unavailable`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "message to send (required)")
	chatCmd.Flags().StringVar(&chatServerURL, "server-url", "http://localhost:8080", "Axon server URL")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "API key (or AXON_API_KEY env)")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream events via SSE")
	chatCmd.Flags().IntVar(&chatTimeout, "timeout", 300, "timeout in seconds")
	chatCmd.Flags().StringVar(&chatSessionID, "session-id", "", "session ID for multi-turn context")
	chatCmd.Flags().StringVar(&chatAgentID, "agent", "", "agent profile ID")

	_ = chatCmd.MarkFlagRequired("message")
}

func runChat(_ *cobra.Command, _ []string) error {
	if chatMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	apiKey := goutils.Env("AXON_API_KEY", chatAPIKey)
	serverURL := goutils.Env("AXON_SERVER_URL", chatServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(chatTimeout)*time.Second)
	defer cancel()

	if chatStream {
		return runChatSSE(ctx, serverURL, apiKey)
	}
	return runChatHTTP(ctx, serverURL, apiKey)
}

func chatRequestBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"message":    chatMessage,
		"session_id": chatSessionID,
		"agent_id":   chatAgentID,
	})
	return body
}

// runChatHTTP sends a synchronous turn and prints the final reply.
func runChatHTTP(ctx context.Context, serverURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/chat", bytes.NewReader(chatRequestBody()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			SessionID     string `json:"session_id"`
			Reply         string `json:"reply"`
			CorrelationID string `json:"correlation_id"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Reply)
		fmt.Fprintf(os.Stderr, "\n[session_id=%s correlation_id=%s]\n",
			result.SessionID, result.CorrelationID)
		os.Exit(ExitSuccess)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitUnapproved)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitUnapproved)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}

// runChatSSE sends a streaming turn and prints events as they arrive.
// Pending approvals are surfaced with their request ID so a second terminal
// can resolve them while the stream stays open.
func runChatSSE(ctx context.Context, serverURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/chat/stream", bytes.NewReader(chatRequestBody()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitUnapproved)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(ExitFailure)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	exitCode := ExitSuccess

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			Tool      string `json:"tool"`
			RequestID string `json:"request_id"`
			RiskLevel string `json:"risk_level"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "text":
			fmt.Print(event.Content)
		case "tool_request":
			fmt.Fprintf(os.Stderr, "[approval required: %s (risk=%s) — resolve via POST /v1/approve with request_id=%s]\n",
				event.Tool, event.RiskLevel, event.RequestID)
		case "tool_result":
			fmt.Fprintf(os.Stderr, "[executed: %s]\n", event.Tool)
		case "tool_rejected", "tool_blocked":
			fmt.Fprintf(os.Stderr, "[refused: %s]\n", event.Tool)
			exitCode = ExitUnapproved
		case "tool_error":
			fmt.Fprintf(os.Stderr, "[tool error: %s: %s]\n", event.Tool, event.Error)
		case "warning":
			fmt.Fprintf(os.Stderr, "[warning: %s]\n", event.Content)
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", event.Error)
			exitCode = ExitFailure
		case "done":
			fmt.Println()
			os.Exit(exitCode)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream interrupted: %v\n", err)
		os.Exit(ExitFailure)
	}

	return nil
}
