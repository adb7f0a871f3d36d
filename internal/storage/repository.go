package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratiowatch/internal/ratio"
	"ratiowatch/internal/sink"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRecordSQL = `INSERT INTO ratio_records (
        pair,
        ts,
        price_a,
        price_b,
        ratio,
        upper_bound,
        lower_bound,
        trigger_alert
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	// AVG skips NULL, so groups without alerts keep a NULL trigger_alert.
	viewColumnsSQL = `SELECT
        ts,
        COUNT(DISTINCT ts),
        COUNT(*),
        AVG(price_a),
        AVG(price_b),
        AVG(ratio),
        AVG(upper_bound),
        AVG(lower_bound),
        AVG(trigger_alert)
    FROM ratio_records`

	listViewBetweenSQL = viewColumnsSQL + `
    WHERE pair = $1
      AND ts >= $2
      AND ts < $3
    GROUP BY ts
    ORDER BY ts;`

	listRecentViewSQL = viewColumnsSQL + `
    WHERE pair = $1
    GROUP BY ts
    ORDER BY ts DESC
    LIMIT $2;`

	countRecordsSQL = `SELECT COUNT(*) FROM ratio_records WHERE pair = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        pair,
        sample_ts,
        ratio,
        upper_bound,
        lower_bound,
        breach,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (pair, sample_ts, breach) DO UPDATE
    SET ratio       = EXCLUDED.ratio,
        upper_bound = EXCLUDED.upper_bound,
        lower_bound = EXCLUDED.lower_bound,
        channels    = EXCLUDED.channels
    RETURNING id, pair, sample_ts, ratio, upper_bound, lower_bound, breach, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        pair,
        sample_ts,
        ratio,
        upper_bound,
        lower_bound,
        breach,
        channels,
        created_at
    FROM alerts
    WHERE pair = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE pair = $1 AND created_at < $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RecordStore persists analytical records and serves their aggregated view.
type RecordStore interface {
	sink.Sink
	ListViewBetween(ctx context.Context, from, to time.Time) ([]sink.ViewRow, error)
	ListRecentView(ctx context.Context, limit int) ([]sink.ViewRow, error)
	CountRecords(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to records and alerts for one instrument pair.
type Store struct {
	pool *pgxpool.Pool
	pair string
}

// NewStore wires a pgx pool into a Store scoped to pair.
func NewStore(pool *pgxpool.Pool, pair string) *Store {
	return &Store{pool: pool, pair: pair}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Update implements sink.Sink; the batch is written in one round trip.
func (s *Store) Update(ctx context.Context, records []ratio.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		var alert interface{}
		if rec.TriggerAlert != nil {
			alert = *rec.TriggerAlert
		}
		batch.Queue(insertRecordSQL,
			s.pair,
			rec.Timestamp,
			rec.PriceA,
			rec.PriceB,
			rec.Ratio,
			rec.UpperBound,
			rec.LowerBound,
			alert,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert ratio record: %w", execErr)
		}
	}
	return nil
}

// ListViewBetween returns aggregated groups within [from, to).
func (s *Store) ListViewBetween(ctx context.Context, from, to time.Time) ([]sink.ViewRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listViewBetweenSQL, s.pair, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list view between: %w", queryErr)
	}
	defer rows.Close()

	return collectView(rows, 0)
}

// ListRecentView returns the most recent groups ordered by descending timestamp.
func (s *Store) ListRecentView(ctx context.Context, limit int) ([]sink.ViewRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentViewSQL, s.pair, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent view: %w", queryErr)
	}
	defer rows.Close()

	return collectView(rows, limit)
}

// CountRecords counts stored records for the pair.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL, s.pair).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		s.pair,
		alert.SampleTS,
		alert.Ratio,
		alert.UpperBound,
		alert.LowerBound,
		alert.Breach,
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, s.pair, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, s.pair, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectView(rows pgx.Rows, capacity int) ([]sink.ViewRow, error) {
	view := make([]sink.ViewRow, 0, capacity)
	for rows.Next() {
		var row sink.ViewRow
		var distinct, records int64
		if err := rows.Scan(
			&row.Timestamp,
			&distinct,
			&records,
			&row.PriceA,
			&row.PriceB,
			&row.Ratio,
			&row.UpperBound,
			&row.LowerBound,
			&row.TriggerAlert,
		); err != nil {
			return nil, err
		}
		row.Distinct = int(distinct)
		row.Records = int(records)
		view = append(view, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return view, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	err := row.Scan(
		&rec.ID,
		&rec.Pair,
		&rec.SampleTS,
		&rec.Ratio,
		&rec.UpperBound,
		&rec.LowerBound,
		&rec.Breach,
		&rec.Channels,
		&rec.CreatedAt,
	)
	return rec, err
}

var (
	_ RecordStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
