package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/dataset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
	"github.com/patchlab-ai/patchlab-go/internal/registry"
	"github.com/patchlab-ai/patchlab-go/internal/stages"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

func newRunCmd(logger *slog.Logger, configPath *string) *cobra.Command {
	var params []string
	var local bool
	cmd := &cobra.Command{
		Use:   "run <entry_point>",
		Short: "Execute one entry point and print the run record",
		Long: `Execute one entry point. By default the run is submitted to the
patchlab server; --local executes in-process against an in-memory
ledger and object store, which is useful for single-shot runs over
directory datasets.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			if local {
				return runLocal(cmd, logger, cfg, args[0], parameters)
			}
			return runRemote(cmd, cfg, args[0], parameters)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "P", nil, "entry point parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&local, "local", false, "execute in-process instead of submitting to the server")
	return cmd
}

func runLocal(cmd *cobra.Command, logger *slog.Logger, cfg config, entryPoint string, parameters map[string]any) error {
	store := objectstore.NewMemoryStore()
	artifactStore, err := artifacts.NewStore(store, cfg.Bucket)
	if err != nil {
		return err
	}
	models, err := registry.New(store, cfg.Bucket)
	if err != nil {
		return err
	}
	runLedger := ledger.NewMemoryLedger()
	resolver, err := dataset.New(runLedger, artifactStore)
	if err != nil {
		return err
	}
	runner, err := pipeline.NewRunner(stages.All(), runLedger, artifactStore, models, resolver, logger)
	if err != nil {
		return err
	}

	run, execErr := runner.Execute(cmd.Context(), entryPoint, parameters)
	record := map[string]any{
		"run_id":      run.ID,
		"entry_point": run.EntryPoint,
		"status":      string(run.Status),
		"created_at":  run.CreatedAt,
	}
	if run.Error != "" {
		record["error"] = run.Error
	}
	if len(run.Metrics) > 0 {
		record["metrics"] = run.Metrics
	}
	if run.EndedAt != nil {
		record["ended_at"] = run.EndedAt
	}
	if err := printJSON(cmd.OutOrStdout(), record); err != nil {
		return err
	}
	return execErr
}

func runRemote(cmd *cobra.Command, cfg config, entryPoint string, parameters map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"entry_point": entryPoint,
		"parameters":  parameters,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, cfg.ServerURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

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

// parseParams turns repeated key=value flags into raw parameters.
// Values stay strings; the entry point schema coerces them.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
