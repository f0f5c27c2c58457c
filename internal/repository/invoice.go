package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// InvoiceUpdate is a partial mutation. Nil fields are left untouched;
// Data is always replaced wholesale, never merged.
type InvoiceUpdate struct {
	Status           *constants.InvoiceStatus
	Data             *entity.ExtractedData
	ProcessingErrors *[]string
}

// InvoiceRepository is the single source of truth for invoice records.
// Every mutation is read-modify-write through the store; updated_at is
// refreshed on every mutation.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error)
	List(ctx context.Context) ([]*entity.Invoice, error)
	Update(ctx context.Context, id uuid.UUID, upd InvoiceUpdate) (*entity.Invoice, error)
}
