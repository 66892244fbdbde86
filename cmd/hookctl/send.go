package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/garrettladley/hookd/internal/config"
	"github.com/garrettladley/hookd/internal/xhttp"
	"github.com/spf13/cobra"
)

const defaultWebhookURL = "http://localhost:8080/webhooks/payments"

func sendCmd() *cobra.Command {
	var (
		flags   payloadFlags
		url     string
		header  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a payload and deliver it to a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, sig, err := flags.sign(cmd.InOrStdin())
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("failed to build request: %w", err)
			}
			req.Header.Set(xhttp.ContentType, xhttp.ApplicationJSON)
			req.Header.Set(header, sig)

			resp, err := xhttp.NewHTTPClient(xhttp.WithTimeout(timeout)).Do(req)
			if err != nil {
				return fmt.Errorf("failed to deliver webhook: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Status)
			if len(body) > 0 {
				fmt.Fprint(out, string(body))
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("server answered %s", resp.Status)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&url, "url", defaultWebhookURL, "webhook endpoint")
	cmd.Flags().StringVar(&header, "header", config.DefaultSignatureHeader, "signature header name")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
