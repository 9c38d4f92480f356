package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/mistakeknot/warewatch/internal/core"
)

//go:embed schema.sql
var schema string

type Store struct {
	db dbHandle
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertRobot(robot core.Robot) error {
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO robots (id, battery, zone, row_number, shelf_number, status, last_update)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   battery=excluded.battery, zone=excluded.zone, row_number=excluded.row_number,
			   shelf_number=excluded.shelf_number, status=excluded.status, last_update=excluded.last_update`,
			robot.ID, robot.Battery, robot.Zone, robot.Row, robot.Shelf,
			string(robot.Status), robot.LastUpdate.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("upsert robot: %w", err)
		}
		return nil
	})
}

func (s *Store) ListRobots() ([]core.Robot, error) {
	rows, err := s.db.Query(
		`SELECT id, battery, zone, row_number, shelf_number, status, last_update
		 FROM robots ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query robots: %w", err)
	}
	defer rows.Close()

	var out []core.Robot
	for rows.Next() {
		var r core.Robot
		var status, lastUpdate string
		if err := rows.Scan(&r.ID, &r.Battery, &r.Zone, &r.Row, &r.Shelf, &status, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan robot row: %w", err)
		}
		r.Status = core.RobotStatus(status)
		r.LastUpdate = parseTime(lastUpdate)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkOfflineBefore(cutoff, observed time.Time) (int, error) {
	var marked int64
	err := RetryOnDBLock(func() error {
		res, err := s.db.Exec(
			`UPDATE robots SET status = ?, last_update = ? WHERE status != ? AND last_update < ?`,
			string(core.RobotOffline),
			observed.UTC().Format(time.RFC3339Nano),
			string(core.RobotOffline),
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("mark offline: %w", err)
		}
		marked, _ = res.RowsAffected()
		return nil
	})
	return int(marked), err
}

func (s *Store) AppendScan(scan core.Scan) error {
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO scan_history (id, scanned_at, robot_id, zone, row_number, product, product_id, quantity, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), scan.Time.UTC().Format(time.RFC3339Nano),
			scan.RobotID, scan.Zone, scan.Row, scan.Product, scan.ProductID,
			scan.Quantity, string(scan.Status),
		)
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		return nil
	})
}

func (s *Store) RecentScans(limit int) ([]core.Scan, error) {
	rows, err := s.db.Query(
		`SELECT scanned_at, robot_id, zone, row_number, product, product_id, quantity, status
		 FROM scan_history ORDER BY scanned_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()
	return collectScans(rows)
}

func (s *Store) CheckedSince(since time.Time) (int, error) {
	return s.countScans(`SELECT COUNT(*) FROM scan_history WHERE scanned_at >= ?`, since)
}

func (s *Store) CriticalSince(since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM scan_history WHERE scanned_at >= ? AND status = ?`,
		since.UTC().Format(time.RFC3339Nano), string(core.ScanCritical),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count critical: %w", err)
	}
	return count, nil
}

func (s *Store) LatestByCell() (map[string]core.Scan, error) {
	rows, err := s.db.Query(
		`SELECT scanned_at, robot_id, zone, row_number, product, product_id, quantity, status
		 FROM scan_history
		 WHERE zone != '' AND row_number > 0
		 ORDER BY scanned_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cell scans: %w", err)
	}
	defer rows.Close()

	scans, err := collectScans(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.Scan)
	for _, scan := range scans {
		key := fmt.Sprintf("%s%d", scan.Zone, scan.Row)
		if prev, ok := out[key]; ok && !scan.Time.After(prev.Time) {
			continue
		}
		out[key] = scan
	}
	return out, nil
}

func (s *Store) PruneScansBefore(cutoff time.Time) (int, error) {
	var pruned int64
	err := RetryOnDBLock(func() error {
		res, err := s.db.Exec(
			`DELETE FROM scan_history WHERE scanned_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("prune scans: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	return int(pruned), err
}

func (s *Store) countScans(query string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(query, since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scans: %w", err)
	}
	return count, nil
}

func collectScans(rows *sql.Rows) ([]core.Scan, error) {
	var out []core.Scan
	for rows.Next() {
		var s core.Scan
		var scannedAt, status string
		if err := rows.Scan(&scannedAt, &s.RobotID, &s.Zone, &s.Row, &s.Product, &s.ProductID, &s.Quantity, &status); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		s.Time = parseTime(scannedAt)
		s.Status = core.ScanStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
