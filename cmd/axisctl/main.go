// Command axisctl is a thin operator CLI for local development against a
// running axiscored instance: enqueue a job, poll its status, approve or
// cancel it, and inspect a gear manifest on disk. Grounded on the
// cobra-based cmd/semspec pattern, talking to the Gateway's HTTP surface
// with a plain net/http.Client the way the teacher's own pkg/runbook and
// pkg/mcp clients do.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/axiscore/axiscore/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string

	root := &cobra.Command{
		Use:   "axisctl",
		Short: "Operator CLI for a running axiscored instance",
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", "http://localhost:8080", "axiscored gateway base URL")

	client := &apiClient{base: strings.TrimRight(baseURL, "/")}

	root.AddCommand(newEnqueueCmd(client, &baseURL))
	root.AddCommand(newJobsCmd(client, &baseURL))
	root.AddCommand(newGearsCmd())
	return root
}

// apiClient resolves its base URL lazily so it always reflects whatever
// --addr was parsed onto the flag variable, not whatever baseURL held at
// construction time (cobra parses persistent flags after AddCommand).
type apiClient struct {
	base string
}

func (c *apiClient) url(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func (c *apiClient) do(ctx context.Context, base, method, path string, body, out any) error {
	var reader *strings.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(base, path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("%s %s: status %d: %v", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if resp.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newEnqueueCmd(client *apiClient, baseURL *string) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "enqueue [content]",
		Short: "Submit a user message as a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			body := map[string]string{"conversationId": conversationID, "content": args[0]}
			if err := client.do(cmd.Context(), *baseURL, http.MethodPost, "/messages", body, &out); err != nil {
				return err
			}
			fmt.Printf("job enqueued: %v\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: new session)")
	return cmd
}

func newJobsCmd(client *apiClient, baseURL *string) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and act on jobs",
	}

	jobs.AddCommand(&cobra.Command{
		Use:   "get [job-id]",
		Short: "Fetch a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client.do(cmd.Context(), *baseURL, http.MethodGet, "/jobs/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	var nonce string
	approve := &cobra.Command{
		Use:   "approve [job-id]",
		Short: "Approve a job awaiting execution approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"nonce": nonce}
			return client.do(cmd.Context(), *baseURL, http.MethodPost, "/jobs/"+args[0]+"/approve", body, nil)
		},
	}
	approve.Flags().StringVar(&nonce, "nonce", "", "approval nonce issued to the client")
	jobs.AddCommand(approve)

	jobs.AddCommand(&cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Cancel a running or queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(cmd.Context(), *baseURL, http.MethodPost, "/jobs/"+args[0]+"/cancel", nil, nil)
		},
	})

	return jobs
}

func newGearsCmd() *cobra.Command {
	gears := &cobra.Command{
		Use:   "gears",
		Short: "Inspect gear manifests without starting axiscored",
	}

	gears.AddCommand(&cobra.Command{
		Use:   "inspect [manifest-dir]",
		Short: "Load and print every gear manifest in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifests, err := config.LoadGearManifests(args[0])
			if err != nil {
				return err
			}
			if len(manifests) == 0 {
				fmt.Println("no gear manifests found")
				return nil
			}
			for _, m := range manifests {
				fmt.Printf("%-20s entry=%-30s checksum=%s\n", m.ID, m.EntryPoint, m.Checksum)
			}
			return nil
		},
	})

	return gears
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
