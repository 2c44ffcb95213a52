package main

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/api"
)

var (
	queryURL     string
	querySince   string
	queryUntil   string
	queryLimit   int
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:       "query {current|two-minute|archive|earliest|health}",
	Short:     "Query a running proxy over HTTP",
	Long:      `Fetch records from a running airgradient-proxy and print them as JSON.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"current", "two-minute", "archive", "earliest", "health"},
	RunE:      runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryURL, "url", "", "base URL of the proxy (default http://localhost:<server-port>)")
	queryCmd.Flags().StringVar(&querySince, "since", "", "archive: only records after this time (epoch seconds or ISO-8601)")
	queryCmd.Flags().StringVar(&queryUntil, "until", "", "archive: only records up to this time (epoch seconds or ISO-8601)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "archive: maximum number of records, 0 for all")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	baseURL := queryURL
	if baseURL == "" {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("no --url given and no usable configuration: %w", err)
		}
		baseURL = "http://" + net.JoinHostPort("localhost", strconv.Itoa(cfg.ServerPort))
	}

	client := api.NewClient(baseURL, api.WithTimeout(queryTimeout))
	ctx := cmd.Context()

	var result any
	switch args[0] {
	case "current", "two-minute":
		fetch := client.GetCurrentReading
		if args[0] == "two-minute" {
			fetch = client.GetShortWindowReading
		}
		r, err := fetch(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			result = struct{}{}
		} else {
			result = r
		}

	case "archive":
		opts := api.ArchiveOptions{Limit: queryLimit}
		var err error
		if querySince != "" {
			if opts.Since, err = parseTimestamp(querySince); err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
		}
		if queryUntil != "" {
			if opts.Until, err = parseTimestamp(queryUntil); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
		}
		readings, err := client.GetArchiveReadings(ctx, opts)
		if err != nil {
			return err
		}
		result = readings

	case "earliest":
		ts, ok, err := client.GetEarliestTimestamp(ctx)
		if err != nil {
			return err
		}
		if !ok {
			result = struct{}{}
		} else {
			result = map[string]string{"timestamp": ts.Format(time.RFC3339Nano)}
		}

	case "health":
		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		result = health
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
