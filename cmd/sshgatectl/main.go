package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sameehj/sshgate/server"
	"github.com/spf13/cobra"
)

const defaultServerEndpoint = "http://127.0.0.1:7480"

// Requests may wait for a full remote timeout.
var httpClientFactory = func() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sshgatectl",
		Short:         "Client for the sshgate HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", defaultServerEndpoint, "sshgate HTTP endpoint")
	rootCmd.PersistentFlags().String("caller", os.Getenv("USER"), "caller identity sent with each request")

	rootCmd.AddCommand(
		sshCmd(),
		statusCmd(),
		testCmd(),
	)
	return rootCmd
}

func sshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <command...>",
		Short: "Run a command on the remote host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, caller := endpointFlags(cmd)
			req := server.ExecRequest{Caller: caller, Command: strings.Join(args, " ")}
			var resp server.ReplyResponse
			if err := call(http.MethodPost, endpoint+"/v1/ssh", req, &resp); err != nil {
				return err
			}
			return printReply(cmd.OutOrStdout(), resp)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured remote host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, caller := endpointFlags(cmd)
			var resp server.StatusResponse
			if err := call(http.MethodGet, endpoint+"/v1/ssh/status?caller="+url.QueryEscape(caller), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "host: %s\nport: %d\nusername: %s\nsession: %s\n",
				resp.Host, resp.Port, resp.Username, resp.Session)
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the connectivity probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, caller := endpointFlags(cmd)
			var resp server.ReplyResponse
			if err := call(http.MethodPost, endpoint+"/v1/ssh/test", server.ExecRequest{Caller: caller}, &resp); err != nil {
				return err
			}
			for _, notice := range resp.Notices {
				fmt.Fprintln(cmd.ErrOrStderr(), notice)
			}
			return printReply(cmd.OutOrStdout(), resp)
		},
	}
}

func endpointFlags(cmd *cobra.Command) (string, string) {
	endpoint := strings.TrimRight(cmd.Flag("server").Value.String(), "/")
	return endpoint, cmd.Flag("caller").Value.String()
}

func printReply(w io.Writer, resp server.ReplyResponse) error {
	if !resp.OK {
		return fmt.Errorf("%s: %s", resp.Kind, resp.Text)
	}
	fmt.Fprint(w, resp.Text)
	if !strings.HasSuffix(resp.Text, "\n") {
		fmt.Fprintln(w)
	}
	return nil
}

// call sends body as JSON and decodes the reply into out. Non-2xx replies
// that still carry a gateway result are decoded too; the caller inspects OK.
func call(method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClientFactory().Do(req)
	if err != nil {
		return fmt.Errorf("call sshgate: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return errors.New(payload.Error)
		}
		if resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusBadGateway && resp.StatusCode != http.StatusGatewayTimeout {
			return fmt.Errorf("status %s", resp.Status)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response (status %s): %w", resp.Status, err)
	}
	return nil
}
