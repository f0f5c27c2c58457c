package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// SQLiteRepository is the embedded default store.
type SQLiteRepository struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the invoice database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	r := &SQLiteRepository{conn: conn, logger: logger}
	if err := r.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("sqlite store ready", "path", path)
	return r, nil
}

func (r *SQLiteRepository) Close() error {
	return r.conn.Close()
}

func (r *SQLiteRepository) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  file_type TEXT NOT NULL,
  source TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'processing',
  data TEXT,
  processing_errors TEXT NOT NULL DEFAULT '[]',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at);
`
	_, err := r.conn.Exec(schema)
	return err
}

func (r *SQLiteRepository) Create(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error) {
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

	dataJSON, errsJSON, err := encodePayload(inv)
	if err != nil {
		return nil, err
	}

	_, err = r.conn.ExecContext(ctx, `
INSERT INTO invoices (id, filename, file_type, source, status, data, processing_errors, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.Filename, string(inv.FileType), string(inv.Source), string(inv.Status),
		dataJSON, errsJSON, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		r.logger.Error("failed to create invoice", "invoice_id", inv.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	row := r.conn.QueryRowContext(ctx, `
SELECT id, filename, file_type, source, status, data, processing_errors, created_at, updated_at
FROM invoices WHERE id = ?`, id.String())
	inv, err := scanInvoice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, id)
	}
	return inv, err
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*entity.Invoice, error) {
	rows, err := r.conn.QueryContext(ctx, `
SELECT id, filename, file_type, source, status, data, processing_errors, created_at, updated_at
FROM invoices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*entity.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Update(ctx context.Context, id uuid.UUID, upd InvoiceUpdate) (*entity.Invoice, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, filename, file_type, source, status, data, processing_errors, created_at, updated_at
FROM invoices WHERE id = ?`, id.String())
	inv, err := scanInvoice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	applyUpdate(inv, upd)
	dataJSON, errsJSON, err := encodePayload(inv)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE invoices SET status = ?, data = ?, processing_errors = ?, updated_at = ? WHERE id = ?`,
		string(inv.Status), dataJSON, errsJSON, inv.UpdatedAt.Format(time.RFC3339Nano), id.String())
	if err != nil {
		r.logger.Error("failed to update invoice", "invoice_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return inv, nil
}

// applyUpdate folds a partial update into the loaded record and refreshes
// updated_at.
func applyUpdate(inv *entity.Invoice, upd InvoiceUpdate) {
	if upd.Status != nil {
		inv.Status = *upd.Status
	}
	if upd.Data != nil {
		inv.Data = upd.Data
	}
	if upd.ProcessingErrors != nil {
		errs := make([]string, len(*upd.ProcessingErrors))
		copy(errs, *upd.ProcessingErrors)
		inv.ProcessingErrors = errs
	}
	inv.UpdatedAt = time.Now().UTC()
}

func encodePayload(inv *entity.Invoice) (data sql.NullString, errs string, err error) {
	if inv.Data != nil {
		raw, merr := json.Marshal(inv.Data)
		if merr != nil {
			return data, "", merr
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}
	rawErrs, merr := json.Marshal(inv.ProcessingErrors)
	if merr != nil {
		return data, "", merr
	}
	return data, string(rawErrs), nil
}

func scanInvoice(scan func(dest ...any) error) (*entity.Invoice, error) {
	var (
		idStr, filename, fileType, source, status string
		dataJSON                                  sql.NullString
		errsJSON                                  string
		createdAt, updatedAt                      string
	)
	if err := scan(&idStr, &filename, &fileType, &source, &status, &dataJSON, &errsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt invoice id %q: %w", idStr, err)
	}
	inv := &entity.Invoice{
		ID:       id,
		Filename: filename,
		FileType: constants.FileType(fileType),
		Source:   constants.Source(source),
		Status:   constants.InvoiceStatus(status),
	}
	if dataJSON.Valid {
		var data entity.ExtractedData
		if err := json.Unmarshal([]byte(dataJSON.String), &data); err != nil {
			return nil, fmt.Errorf("corrupt invoice data for %s: %w", idStr, err)
		}
		inv.Data = &data
	}
	if err := json.Unmarshal([]byte(errsJSON), &inv.ProcessingErrors); err != nil {
		return nil, fmt.Errorf("corrupt processing errors for %s: %w", idStr, err)
	}
	if inv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return inv, nil
}
