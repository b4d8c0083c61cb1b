package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newRunsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger through the server",
	}
	cmd.AddCommand(
		newRunsListCmd(configPath),
		newRunsShowCmd(configPath),
		newRunsArtifactsCmd(configPath),
	)
	return cmd
}

func newRunsListCmd(configPath *string) *cobra.Command {
	var entryPoint, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if entryPoint != "" {
				query.Set("entry_point", entryPoint)
			}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", fmt.Sprint(limit))
			}
			path := "/api/v1/runs"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			return getJSON(cmd, *configPath, path)
		},
	}
	cmd.Flags().StringVar(&entryPoint, "entry-point", "", "filter by entry point")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs to return")
	return cmd
}

func newRunsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd, *configPath, "/api/v1/runs/"+url.PathEscape(args[0]))
		},
	}
}

func newRunsArtifactsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <run_id>",
		Short: "List a run's published artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd, *configPath, "/api/v1/runs/"+url.PathEscape(args[0])+"/artifacts")
		},
	}
}

func getJSON(cmd *cobra.Command, configPath, path string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, cfg.ServerURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(payload)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
