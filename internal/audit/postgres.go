package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store on a PostgreSQL-compatible server.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to audit database: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
		job_id TEXT PRIMARY KEY,
		recorded_at TIMESTAMPTZ NOT NULL,
		department TEXT NOT NULL,
		service_code TEXT,
		sla_hours INTEGER,
		confidence DOUBLE PRECISION,
		extracted JSONB
	)`)
	if err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	extracted, err := json.Marshal(rec.Extracted)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO audit_log (job_id, recorded_at, department, service_code, sla_hours, confidence, extracted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING`,
		rec.JobID, rec.Timestamp, rec.Department.Department, rec.Department.ServiceCode, rec.Department.SLAHours, rec.Confidence, extracted)
	if err != nil {
		return fmt.Errorf("save audit %s: %w", rec.JobID, err)
	}
	return nil
}

const selectAuditPG = `SELECT job_id, recorded_at, department, service_code, sla_hours, confidence, extracted FROM audit_log`

func (p *Postgres) Get(ctx context.Context, jobID string) (*Record, error) {
	rec, err := scanPG(p.pool.QueryRow(ctx, selectAuditPG+` WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (p *Postgres) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, selectAuditPG+` ORDER BY recorded_at DESC, job_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanPG(row pgx.Row) (*Record, error) {
	var (
		rec       Record
		code      *string
		sla       *int32
		conf      *float64
		extracted []byte
	)
	if err := row.Scan(&rec.JobID, &rec.Timestamp, &rec.Department.Department, &code, &sla, &conf, &extracted); err != nil {
		return nil, err
	}
	if code != nil {
		rec.Department.ServiceCode = *code
	}
	if sla != nil {
		rec.Department.SLAHours = int(*sla)
	}
	if conf != nil {
		rec.Confidence = *conf
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &rec.Extracted); err != nil {
			return nil, fmt.Errorf("decode extracted for %s: %w", rec.JobID, err)
		}
	}
	return &rec, nil
}
