package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/aggregator"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/puller"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/sanity"
)

// errCheckFailed is returned by the check command when any step failed
var errCheckFailed = errors.New("self-test FAILED")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a self-test against the configured sensor",
	Long: `Collect two readings one second apart from the configured sensor and
exercise validation, averaging, JSON encoding and the database on a temporary
file. Prints PASSED or FAILED for every step.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	p, err := selectPuller(cfg, logger)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "airgradient-proxy-check-")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st := &selfTest{
		out:     cmd.OutOrStdout(),
		puller:  p,
		checker: sanity.New(sanity.WithLogger(logger)),
		dbConfig: database.Config{
			Driver: database.DriverSQLite,
			File:   filepath.Join(dir, "check.sdb"),
			Logger: logger,
		},
		archive: cfg.ArchiveInterval(),
		now:     time.Now,
		sleep:   time.Sleep,
		logger:  logger,
	}
	return st.Run(cmd.Context())
}

// selfTest runs the check command's steps in order
type selfTest struct {
	out      io.Writer
	puller   puller.Puller
	checker  *sanity.Checker
	dbConfig database.Config
	archive  time.Duration
	now      func() time.Time
	sleep    func(time.Duration)
	logger   *slog.Logger

	readings []models.Reading
	average  models.Reading
}

type checkStep struct {
	name string
	run  func(ctx context.Context) error
}

// Run executes every step, stopping at the first failure
func (st *selfTest) Run(ctx context.Context) error {
	steps := []checkStep{
		{"collect readings", st.collect},
		{"sanity check", st.sanityCheck},
		{"average", st.averageReadings},
		{"json round trip", st.jsonRoundTrip},
		{"current record", st.currentRecord},
		{"archive record", st.archiveRecord},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			fmt.Fprintf(st.out, "%-20s FAILED: %v\n", step.name, err)
			fmt.Fprintln(st.out, "FAILED")
			return errCheckFailed
		}
		fmt.Fprintf(st.out, "%-20s PASSED\n", step.name)
	}

	fmt.Fprintln(st.out, "PASSED")
	return nil
}

func (st *selfTest) collect(ctx context.Context) error {
	for i := range 2 {
		if i > 0 {
			st.sleep(time.Second)
		}
		r, err := st.puller.Pull(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(st.out, "reading %d: %s\n", i+1, r)
		st.readings = append(st.readings, r)
	}
	return nil
}

func (st *selfTest) sanityCheck(ctx context.Context) error {
	for i, r := range st.readings {
		if ok, reason := st.checker.Check(r, st.now()); !ok {
			return fmt.Errorf("reading %d is insane: %s", i+1, reason)
		}
	}
	return nil
}

func (st *selfTest) averageReadings(ctx context.Context) error {
	avg, err := aggregator.Average(st.readings)
	if err != nil {
		return err
	}
	last := st.readings[len(st.readings)-1]
	if !avg.MeasurementTime.Equal(last.MeasurementTime) {
		return fmt.Errorf("average stamped %s, expected %s", avg.MeasurementTime, last.MeasurementTime)
	}
	fmt.Fprintf(st.out, "average: %s\n", avg)
	st.average = avg
	return nil
}

func (st *selfTest) jsonRoundTrip(ctx context.Context) error {
	data, err := json.Marshal(st.average)
	if err != nil {
		return err
	}
	var decoded models.Reading
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if !decoded.Equal(storedForm(st.average)) {
		return fmt.Errorf("decoded %s differs from %s", decoded, st.average)
	}
	return nil
}

func (st *selfTest) currentRecord(ctx context.Context) error {
	dm, err := database.Create(ctx, st.dbConfig)
	if err != nil {
		return err
	}
	defer dm.Close()

	for _, r := range st.readings {
		if err := dm.SaveCurrentReading(ctx, r); err != nil {
			return err
		}
	}

	got, ok, err := dm.FetchCurrentReading(ctx)
	if err != nil {
		return err
	}
	want := storedForm(st.readings[len(st.readings)-1])
	if !ok || !got.Equal(want) {
		return fmt.Errorf("current record is %s, expected %s", got, want)
	}

	n, err := dm.CountReadings(ctx, models.RecordTypeCurrent)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected one current record, found %d", n)
	}
	return nil
}

func (st *selfTest) archiveRecord(ctx context.Context) error {
	dm, err := database.Open(ctx, st.dbConfig)
	if err != nil {
		return err
	}
	defer dm.Close()

	rec := st.average
	rec.MeasurementTime = puller.ArchiveTimestamp(st.now(), st.archive)
	if err := dm.SaveArchiveReading(ctx, rec); err != nil {
		return err
	}
	if err := dm.SaveArchiveReading(ctx, rec); !errors.Is(err, database.ErrDuplicateArchiveRecord) {
		return fmt.Errorf("expected duplicate archive record to be rejected, got %v", err)
	}

	readings, err := dm.FetchArchiveReadings(ctx, models.ArchiveQuery{Since: rec.MeasurementTime.Add(-st.archive)})
	if err != nil {
		return err
	}
	if len(readings) != 1 || !readings[0].Equal(rec) {
		return fmt.Errorf("archive query returned %d records, expected %s", len(readings), rec)
	}
	return nil
}

// storedForm returns r as it reads back from JSON or the database
func storedForm(r models.Reading) models.Reading {
	r.MeasurementTime = r.MeasurementTime.UTC().Truncate(time.Microsecond)
	return r
}
