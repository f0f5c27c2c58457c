package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// PoolConfig holds pgx pool tuning knobs.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// OpenPostgres creates a pgx pool and pings it within the dial timeout.
func OpenPostgres(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-pipeline"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// PostgresRepository is the production store backed by a pgx pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

// InitSchema creates the invoices table if missing.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS invoices (
		id UUID PRIMARY KEY,
		filename VARCHAR(255) NOT NULL,
		file_type VARCHAR(8) NOT NULL,
		source VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL CHECK (status IN ('processing', 'completed', 'failed', 'pending_verification', 'posted')),
		data JSONB,
		processing_errors JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices (status);`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("error creating invoices table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = constants.StatusProcessing
	}
	if inv.ProcessingErrors == nil {
		inv.ProcessingErrors = []string{}
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	dataJSON, errsJSON, err := marshalColumns(inv)
	if err != nil {
		return nil, err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO invoices (id, filename, file_type, source, status, data, processing_errors, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.Filename, string(inv.FileType), string(inv.Source), string(inv.Status),
		dataJSON, errsJSON, now, now)
	if err != nil {
		r.logger.Error("failed to create invoice", "invoice_id", inv.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	return r.get(ctx, r.pool, id)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) get(ctx context.Context, q pgQuerier, id uuid.UUID) (*entity.Invoice, error) {
	var (
		inv      entity.Invoice
		fileType string
		source   string
		status   string
		dataJSON []byte
		errsJSON []byte
	)
	err := q.QueryRow(ctx, `
SELECT id, filename, file_type, source, status, data, processing_errors, created_at, updated_at
FROM invoices WHERE id = $1`, id).
		Scan(&inv.ID, &inv.Filename, &fileType, &source, &status, &dataJSON, &errsJSON, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}

	inv.FileType = constants.FileType(fileType)
	inv.Source = constants.Source(source)
	inv.Status = constants.InvoiceStatus(status)
	if len(dataJSON) > 0 {
		var data entity.ExtractedData
		if err := json.Unmarshal(dataJSON, &data); err != nil {
			return nil, fmt.Errorf("corrupt invoice data for %s: %w", id, err)
		}
		inv.Data = &data
	}
	if err := json.Unmarshal(errsJSON, &inv.ProcessingErrors); err != nil {
		return nil, fmt.Errorf("corrupt processing errors for %s: %w", id, err)
	}
	return &inv, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*entity.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, filename, file_type, source, status, data, processing_errors, created_at, updated_at
FROM invoices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := make([]*entity.Invoice, 0)
	for rows.Next() {
		var (
			inv      entity.Invoice
			fileType string
			source   string
			status   string
			dataJSON []byte
			errsJSON []byte
		)
		if err := rows.Scan(&inv.ID, &inv.Filename, &fileType, &source, &status, &dataJSON, &errsJSON, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		inv.FileType = constants.FileType(fileType)
		inv.Source = constants.Source(source)
		inv.Status = constants.InvoiceStatus(status)
		if len(dataJSON) > 0 {
			var data entity.ExtractedData
			if err := json.Unmarshal(dataJSON, &data); err != nil {
				return nil, fmt.Errorf("corrupt invoice data for %s: %w", inv.ID, err)
			}
			inv.Data = &data
		}
		if err := json.Unmarshal(errsJSON, &inv.ProcessingErrors); err != nil {
			return nil, fmt.Errorf("corrupt processing errors for %s: %w", inv.ID, err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, id uuid.UUID, upd InvoiceUpdate) (*entity.Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inv, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	applyUpdate(inv, upd)
	dataJSON, errsJSON, err := marshalColumns(inv)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
UPDATE invoices SET status = $1, data = $2, processing_errors = $3, updated_at = $4 WHERE id = $5`,
		string(inv.Status), dataJSON, errsJSON, inv.UpdatedAt, id)
	if err != nil {
		r.logger.Error("failed to update invoice", "invoice_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

func marshalColumns(inv *entity.Invoice) (data []byte, errs []byte, err error) {
	if inv.Data != nil {
		if data, err = json.Marshal(inv.Data); err != nil {
			return nil, nil, err
		}
	}
	if errs, err = json.Marshal(inv.ProcessingErrors); err != nil {
		return nil, nil, err
	}
	return data, errs, nil
}
