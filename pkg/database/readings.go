package database

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/guregu/null"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// readingColumns lists the value columns in storage order, after record_type and timestamp
var readingColumns = func() []string {
	var r models.Reading
	cols := []string{"serialno"}
	for _, ch := range r.FloatChannels() {
		cols = append(cols, ch.Name)
	}
	return append(cols, "boot", "bootCount", "ledMode", "firmware", "model")
}()

var (
	insertReadingQuery = fmt.Sprintf(
		"INSERT INTO Reading (record_type, timestamp, %s) VALUES (?, ?%s)",
		strings.Join(readingColumns, ", "),
		strings.Repeat(", ?", len(readingColumns)),
	)
	selectReadingColumns = "timestamp, " + strings.Join(readingColumns, ", ")
)

// toEpoch converts t to the stored representation: seconds with microsecond precision
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1e6))).UTC()
}

func readingArgs(recordType models.RecordType, r models.Reading) []any {
	args := make([]any, 0, len(readingColumns)+2)
	args = append(args, int(recordType), toEpoch(r.MeasurementTime), r.SerialNo)
	for _, ch := range r.FloatChannels() {
		args = append(args, *ch.Value)
	}
	return append(args, r.Boot, r.BootCount, r.LedMode, r.Firmware, r.Model)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (models.Reading, error) {
	var (
		r  models.Reading
		ts float64
	)

	dest := make([]any, 0, len(readingColumns)+1)
	dest = append(dest, &ts, &r.SerialNo)
	for _, ch := range r.FloatChannels() {
		dest = append(dest, ch.Value)
	}
	dest = append(dest, &r.Boot, &r.BootCount, &r.LedMode, &r.Firmware, &r.Model)

	if err := row.Scan(dest...); err != nil {
		return models.Reading{}, err
	}
	r.MeasurementTime = fromEpoch(ts)
	return r, nil
}

// replaceReading swaps the single row of recordType inside one transaction
func (dm *DatabaseManager) replaceReading(ctx context.Context, recordType models.RecordType, r models.Reading) error {
	err := dm.TxWithHealthCheck(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rebind(dm.driver, "DELETE FROM Reading WHERE record_type = ?"), int(recordType)); err != nil {
			return fmt.Errorf("failed to delete %s reading: %w", recordType, err)
		}
		if _, err := tx.ExecContext(ctx, rebind(dm.driver, insertReadingQuery), readingArgs(recordType, r)...); err != nil {
			return fmt.Errorf("failed to insert %s reading: %w", recordType, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	dm.logger.Debug("saved reading", "record_type", recordType, "timestamp", r.MeasurementTime)
	return nil
}

// SaveCurrentReading replaces the current record
func (dm *DatabaseManager) SaveCurrentReading(ctx context.Context, r models.Reading) error {
	return dm.replaceReading(ctx, models.RecordTypeCurrent, r)
}

// SaveShortWindowReading replaces the short-window record
func (dm *DatabaseManager) SaveShortWindowReading(ctx context.Context, r models.Reading) error {
	return dm.replaceReading(ctx, models.RecordTypeShortWindow, r)
}

// SaveArchiveReading inserts an archive record. A record with the same
// timestamp yields ErrDuplicateArchiveRecord.
func (dm *DatabaseManager) SaveArchiveReading(ctx context.Context, r models.Reading) error {
	_, err := dm.ExecWithHealthCheck(ctx, insertReadingQuery, readingArgs(models.RecordTypeArchive, r)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w at %s", ErrDuplicateArchiveRecord, r.MeasurementTime.UTC().Format(models.MeasurementTimeLayout))
		}
		return fmt.Errorf("failed to insert archive reading: %w", err)
	}

	dm.logger.Debug("saved reading", "record_type", models.RecordTypeArchive, "timestamp", r.MeasurementTime)
	return nil
}

func (dm *DatabaseManager) fetchSingle(ctx context.Context, recordType models.RecordType) (models.Reading, bool, error) {
	query := "SELECT " + selectReadingColumns + " FROM Reading WHERE record_type = ? ORDER BY timestamp DESC LIMIT 1"

	rows, err := dm.QueryWithHealthCheck(ctx, query, int(recordType))
	if err != nil {
		return models.Reading{}, false, fmt.Errorf("failed to query %s reading: %w", recordType, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.Reading{}, false, rows.Err()
	}

	r, err := scanReading(rows)
	if err != nil {
		return models.Reading{}, false, fmt.Errorf("failed to scan %s reading: %w", recordType, err)
	}
	return r, true, nil
}

// FetchCurrentReading returns the current record, if any
func (dm *DatabaseManager) FetchCurrentReading(ctx context.Context) (models.Reading, bool, error) {
	return dm.fetchSingle(ctx, models.RecordTypeCurrent)
}

// FetchShortWindowReading returns the short-window record, if any
func (dm *DatabaseManager) FetchShortWindowReading(ctx context.Context) (models.Reading, bool, error) {
	return dm.fetchSingle(ctx, models.RecordTypeShortWindow)
}

// ArchiveReadings yields archive records after q.Since, up to and including
// q.Until when set, in ascending timestamp order. The query runs when the
// sequence is iterated, so it can be ranged over again for fresh results.
func (dm *DatabaseManager) ArchiveReadings(ctx context.Context, q models.ArchiveQuery) iter.Seq2[models.Reading, error] {
	return func(yield func(models.Reading, error) bool) {
		if err := q.Validate(); err != nil {
			yield(models.Reading{}, err)
			return
		}

		query := "SELECT " + selectReadingColumns + " FROM Reading WHERE record_type = ? AND timestamp > ?"
		args := []any{int(models.RecordTypeArchive), toEpoch(q.Since)}
		if q.Until != nil {
			query += " AND timestamp <= ?"
			args = append(args, toEpoch(*q.Until))
		}
		query += " ORDER BY timestamp ASC"
		if q.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, q.Limit)
		}

		rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
		if err != nil {
			yield(models.Reading{}, fmt.Errorf("failed to query archive readings: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanReading(rows)
			if err != nil {
				yield(models.Reading{}, fmt.Errorf("failed to scan archive reading: %w", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.Reading{}, err)
		}
	}
}

// FetchArchiveReadings collects ArchiveReadings into a slice
func (dm *DatabaseManager) FetchArchiveReadings(ctx context.Context, q models.ArchiveQuery) ([]models.Reading, error) {
	readings := []models.Reading{}
	for r, err := range dm.ArchiveReadings(ctx, q) {
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// EarliestArchiveTimestamp returns the timestamp of the oldest archive record
func (dm *DatabaseManager) EarliestArchiveTimestamp(ctx context.Context) (time.Time, bool, error) {
	rows, err := dm.QueryWithHealthCheck(ctx, "SELECT MIN(timestamp) FROM Reading WHERE record_type = ?", int(models.RecordTypeArchive))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query earliest timestamp: %w", err)
	}
	defer rows.Close()

	var ts null.Float
	if rows.Next() {
		if err := rows.Scan(&ts); err != nil {
			return time.Time{}, false, fmt.Errorf("failed to scan earliest timestamp: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, false, err
	}

	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return fromEpoch(ts.Float64), true, nil
}

// CountReadings returns the number of stored rows of recordType
func (dm *DatabaseManager) CountReadings(ctx context.Context, recordType models.RecordType) (int, error) {
	rows, err := dm.QueryWithHealthCheck(ctx, "SELECT COUNT(*) FROM Reading WHERE record_type = ?", int(recordType))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

