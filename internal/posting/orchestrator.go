package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
)

// Orchestrator fans a completed invoice out to every configured
// destination poster concurrently, joins all outcomes, and drives the
// final completed->posted/failed transition. Posters are independent
// remote calls: one slow or failing destination never discards the
// others' results.
type Orchestrator struct {
	repo    repository.InvoiceRepository
	posters []Poster
	timeout time.Duration
	logger  *slog.Logger
}

func NewOrchestrator(repo repository.InvoiceRepository, posters []Poster, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{repo: repo, posters: posters, timeout: timeout, logger: logger}
}

// Post loads the invoice and posts it everywhere. Triggering posting for
// a missing invoice returns common.ErrNotFound; for an invoice not in
// completed status, common.ErrInvalidState. Neither mutates the record.
func (o *Orchestrator) Post(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := o.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != constants.StatusCompleted {
		return fmt.Errorf("%w: invoice %s is %s", common.ErrInvalidState, invoiceID, inv.Status)
	}

	results := make([]entity.PostingResult, len(o.posters))
	g, gctx := errgroup.WithContext(ctx)
	for i, poster := range o.posters {
		i, poster := i, poster
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, o.timeout)
			defer cancel()
			results[i] = o.invoke(pctx, poster, inv)
			return nil
		})
	}
	// Posters never return errors through the group; Wait is a join.
	_ = g.Wait()

	return o.record(ctx, inv, results)
}

// invoke shields the fan-out from a misbehaving poster: a panic becomes
// a failed result so the other destinations' outcomes still land.
func (o *Orchestrator) invoke(ctx context.Context, p Poster, inv *entity.Invoice) (res entity.PostingResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("poster panicked", "poster", p.Name(), "invoice_id", inv.ID, "panic", r)
			res = entity.PostingResult{Success: false, Message: fmt.Sprintf("%s: %v", p.Name(), r)}
		}
	}()

	start := time.Now()
	res = p.Post(ctx, inv)
	o.logger.Info("poster finished",
		"poster", p.Name(),
		"invoice_id", inv.ID,
		"success", res.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// record merges the joined outcomes into the payload and transitions the
// status: posted iff every destination succeeded, failed otherwise with
// processing_errors replaced by exactly the failing posters' messages.
func (o *Orchestrator) record(ctx context.Context, inv *entity.Invoice, results []entity.PostingResult) error {
	var data entity.ExtractedData
	if inv.Data != nil {
		data = *inv.Data
	}
	merged := make(map[string]bool, len(data.IntegrationStatus)+len(o.posters))
	for name, ok := range data.IntegrationStatus {
		merged[name] = ok
	}

	failures := []string{}
	for i, poster := range o.posters {
		merged[poster.Name()] = results[i].Success
		if !results[i].Success {
			failures = append(failures, results[i].Message)
		}
	}
	data.IntegrationStatus = merged

	next := constants.StatusPosted
	if len(failures) > 0 {
		next = constants.StatusFailed
	}
	if _, err := o.repo.Update(ctx, inv.ID, repository.InvoiceUpdate{
		Status:           &next,
		Data:             &data,
		ProcessingErrors: &failures,
	}); err != nil {
		o.logger.Error("posting outcome persist failed", "invoice_id", inv.ID, "error", err)
		return err
	}

	o.logger.Info("posting finished", "invoice_id", inv.ID, "status", next, "failures", len(failures))
	if len(failures) > 0 {
		return fmt.Errorf("%w: %d of %d destinations failed", common.ErrPosting, len(failures), len(o.posters))
	}
	return nil
}
