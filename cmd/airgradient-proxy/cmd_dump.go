package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

var (
	dumpSince string
	dumpLimit int
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the stored records",
	Long: `Print the current record, the two-minute record and the archive records
from the configured database as one JSON document per line.`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpSince, "since", "", "only archive records after this time (epoch seconds or ISO-8601)")
	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 0, "maximum number of archive records, 0 for all")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	q := models.ArchiveQuery{Since: time.Unix(0, 0).UTC(), Limit: dumpLimit}
	if dumpSince != "" {
		if q.Since, err = parseTimestamp(dumpSince); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	if err := q.Validate(); err != nil {
		return err
	}

	dm, err := database.OpenReader(cmd.Context(), databaseConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer dm.Close()

	return dumpRecords(cmd.Context(), cmd.OutOrStdout(), dm, q)
}

// dumpRecords writes every record selected by q to out, one JSON document per line
func dumpRecords(ctx context.Context, out io.Writer, store ReadStore, q models.ArchiveQuery) error {
	enc := json.NewEncoder(out)

	singles := []struct {
		label string
		fetch func(ctx context.Context) (models.Reading, bool, error)
	}{
		{"current", store.FetchCurrentReading},
		{"two-minute", store.FetchShortWindowReading},
	}
	for _, s := range singles {
		r, ok, err := s.fetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch %s record: %w", s.label, err)
		}
		fmt.Fprintf(out, "# %s\n", s.label)
		if !ok {
			fmt.Fprintln(out, "{}")
			continue
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "# archive")
	n := 0
	for r, err := range store.ArchiveReadings(ctx, q) {
		if err != nil {
			return fmt.Errorf("failed to read archive records: %w", err)
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
		n++
	}
	fmt.Fprintf(out, "# %d archive records\n", n)
	return nil
}
