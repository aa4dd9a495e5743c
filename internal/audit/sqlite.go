package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store in a local SQLite file.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			job_id TEXT PRIMARY KEY,
			recorded_at TIMESTAMP,
			department TEXT,
			service_code TEXT,
			sla_hours INTEGER,
			confidence REAL,
			extracted_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_recorded ON audit_log(recorded_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	extracted, err := json.Marshal(rec.Extracted)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log(job_id, recorded_at, department, service_code, sla_hours, confidence, extracted_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`,
		rec.JobID, rec.Timestamp.UTC(), rec.Department.Department, rec.Department.ServiceCode, rec.Department.SLAHours, rec.Confidence, string(extracted))
	if err != nil {
		return fmt.Errorf("save audit %s: %w", rec.JobID, err)
	}
	return nil
}

const selectAudit = `SELECT job_id, recorded_at, department, service_code, sla_hours, confidence, extracted_json FROM audit_log`

func (s *SQLite) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectAudit+` WHERE job_id=?`, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectAudit+` ORDER BY recorded_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		recorded  time.Time
		extracted string
	)
	if err := row.Scan(&rec.JobID, &recorded, &rec.Department.Department, &rec.Department.ServiceCode,
		&rec.Department.SLAHours, &rec.Confidence, &extracted); err != nil {
		return nil, err
	}
	rec.Timestamp = recorded
	if err := json.Unmarshal([]byte(extracted), &rec.Extracted); err != nil {
		return nil, fmt.Errorf("decode extracted for %s: %w", rec.JobID, err)
	}
	return &rec, nil
}
