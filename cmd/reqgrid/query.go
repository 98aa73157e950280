package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/reqgrid/reqgrid/internal/app"
)

var queryCmd = &cobra.Command{
	Use:   "query [params]",
	Short: "Run one query and print the result as JSON",
	Long: `Load the configured source once, run a query and print the result.

Params use the same syntax as the HTTP API query string.

Examples:
  reqgrid query --source access.log 'statusCode=500,502&sort=latencyMs.desc&limit=10'
  reqgrid query --source access.log 'timestamp=1710410400000'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

var exportCmd = &cobra.Command{
	Use:   "export [params]",
	Short: "Export every matching row to object storage",
	Long: `Load the configured source once and upload all rows matching the filters
as zstd-compressed NDJSON under the configured export prefix.

Example:
  reqgrid export --source access.log 'severityLevel=error&sort=timestamp.desc'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(exportCmd)
}

func openLoaded(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	cfg.Source.Watch = false
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Load(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func queryValues(args []string) (url.Values, error) {
	if len(args) == 0 {
		return url.Values{}, nil
	}
	values, err := url.ParseQuery(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid query params: %w", err)
	}
	return values, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	values, err := queryValues(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openLoaded(ctx)
	if err != nil {
		return err
	}
	req, err := a.Parser().Parse(values)
	if err != nil {
		return err
	}
	result, err := a.Executor().Execute(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runExport(cmd *cobra.Command, args []string) error {
	values, err := queryValues(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openLoaded(ctx)
	if err != nil {
		return err
	}
	if a.Exporter() == nil {
		return fmt.Errorf("export is disabled in the configuration")
	}
	req, err := a.Parser().Parse(values)
	if err != nil {
		return err
	}
	rows, err := a.Executor().ExecuteRows(ctx, req.Filters, req.Sort)
	if err != nil {
		return err
	}
	res, err := a.Exporter().Export(ctx, rows)
	if err != nil {
		return err
	}
	log.Printf("Exported %d rows (%d bytes) to %s", res.Rows, res.Bytes, res.ObjectPath)
	return nil
}
