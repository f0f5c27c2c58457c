package posting_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
	"github.com/autoshop-labs/invoice-pipeline/internal/posting"
	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
)

func TestPosting(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Posting Suite")
}

// StubRepository returns one invoice and records updates.
type StubRepository struct {
	mu      sync.Mutex
	invoice *entity.Invoice
	updates []repository.InvoiceUpdate
}

func (r *StubRepository) Create(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error) {
	return inv, nil
}

func (r *StubRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invoice == nil || r.invoice.ID != id {
		return nil, fmt.Errorf("%w: invoice %s", common.ErrNotFound, id)
	}
	cp := *r.invoice
	return &cp, nil
}

func (r *StubRepository) List(ctx context.Context) ([]*entity.Invoice, error) {
	return nil, nil
}

func (r *StubRepository) Update(ctx context.Context, id uuid.UUID, upd repository.InvoiceUpdate) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	if upd.Status != nil {
		r.invoice.Status = *upd.Status
	}
	if upd.Data != nil {
		cp := *upd.Data
		r.invoice.Data = &cp
	}
	if upd.ProcessingErrors != nil {
		r.invoice.ProcessingErrors = append([]string(nil), (*upd.ProcessingErrors)...)
	}
	cp := *r.invoice
	return &cp, nil
}

func (r *StubRepository) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// StubPoster returns a fixed result, optionally after a delay or panic.
type StubPoster struct {
	name   string
	result entity.PostingResult
	delay  time.Duration
	panics bool
}

func (p *StubPoster) Name() string { return p.name }

func (p *StubPoster) Post(ctx context.Context, inv *entity.Invoice) entity.PostingResult {
	if p.panics {
		panic("poster exploded")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return entity.PostingResult{Success: false, Message: p.name + ": " + ctx.Err().Error()}
		}
	}
	return p.result
}

var _ = Describe("Orchestrator", func() {
	var (
		repo   *StubRepository
		logger *slog.Logger
		ctx    context.Context
		inv    *entity.Invoice
	)

	newOrchestrator := func(posters ...posting.Poster) *posting.Orchestrator {
		return posting.NewOrchestrator(repo, posters, time.Second, logger)
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx = context.Background()
		inv = &entity.Invoice{
			ID:     uuid.New(),
			Status: constants.StatusCompleted,
			Data: &entity.ExtractedData{
				InvoiceNumber: "INV-10234",
				Parts:         []entity.PartLine{},
				ValidationResults: entity.ValidationResults{
					Errors: []string{},
				},
			},
		}
		repo = &StubRepository{invoice: inv}
	})

	It("marks posted when every destination succeeds", func() {
		o := newOrchestrator(
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: true, Message: "ok"}},
			&StubPoster{name: "cccOne", result: entity.PostingResult{Success: true, Message: "ok"}},
		)

		Expect(o.Post(ctx, inv.ID)).To(Succeed())

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.Status).To(Equal(constants.StatusPosted))
		Expect(got.Data.IntegrationStatus).To(Equal(map[string]bool{"quickbooks": true, "cccOne": true}))
		Expect(got.ProcessingErrors).To(BeEmpty())
	})

	It("marks failed and keeps both outcomes on partial failure", func() {
		o := newOrchestrator(
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: true, Message: "ok"}},
			&StubPoster{name: "cccOne", result: entity.PostingResult{Success: false, Message: "CCC rejected estimate"}},
		)

		err := o.Post(ctx, inv.ID)
		Expect(err).To(MatchError(common.ErrPosting))

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.Status).To(Equal(constants.StatusFailed))
		Expect(got.Data.IntegrationStatus).To(Equal(map[string]bool{"quickbooks": true, "cccOne": false}))
		Expect(got.ProcessingErrors).To(Equal([]string{"CCC rejected estimate"}))
	})

	It("replaces stale processing errors with the current failures", func() {
		inv.ProcessingErrors = []string{"old extraction warning"}
		o := newOrchestrator(
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: false, Message: "QB auth expired"}},
		)

		Expect(o.Post(ctx, inv.ID)).To(MatchError(common.ErrPosting))

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.ProcessingErrors).To(Equal([]string{"QB auth expired"}))
	})

	It("preserves integration results from earlier attempts", func() {
		inv.Data.IntegrationStatus = map[string]bool{"legacyDMS": true}
		o := newOrchestrator(
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: true, Message: "ok"}},
		)

		Expect(o.Post(ctx, inv.ID)).To(Succeed())

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.Data.IntegrationStatus).To(Equal(map[string]bool{"legacyDMS": true, "quickbooks": true}))
	})

	It("turns a panicking poster into a failure without losing the other result", func() {
		o := newOrchestrator(
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: true, Message: "ok"}},
			&StubPoster{name: "cccOne", panics: true},
		)

		Expect(o.Post(ctx, inv.ID)).To(MatchError(common.ErrPosting))

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.Status).To(Equal(constants.StatusFailed))
		Expect(got.Data.IntegrationStatus["quickbooks"]).To(BeTrue())
		Expect(got.Data.IntegrationStatus["cccOne"]).To(BeFalse())
	})

	It("rejects a missing invoice without writing", func() {
		o := newOrchestrator(&StubPoster{name: "quickbooks"})

		err := o.Post(ctx, uuid.New())
		Expect(err).To(MatchError(common.ErrNotFound))
		Expect(repo.updateCount()).To(BeZero())
	})

	It("rejects an invoice that is not completed without writing", func() {
		for _, status := range []constants.InvoiceStatus{
			constants.StatusProcessing,
			constants.StatusFailed,
			constants.StatusPendingVerification,
			constants.StatusPosted,
		} {
			inv.Status = status
			o := newOrchestrator(&StubPoster{name: "quickbooks"})

			err := o.Post(ctx, inv.ID)
			Expect(err).To(MatchError(common.ErrInvalidState))
			Expect(repo.updateCount()).To(BeZero())
		}
	})

	It("bounds a slow poster by the call timeout", func() {
		o := posting.NewOrchestrator(repo, []posting.Poster{
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: true}, delay: 5 * time.Second},
		}, 50*time.Millisecond, logger)

		start := time.Now()
		err := o.Post(ctx, inv.ID)
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(err).To(MatchError(common.ErrPosting))

		got, _ := repo.GetByID(ctx, inv.ID)
		Expect(got.Status).To(Equal(constants.StatusFailed))
	})
})

var _ = Describe("Sandbox posters", func() {
	var (
		logger *slog.Logger
		inv    *entity.Invoice
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		inv = &entity.Invoice{
			ID:     uuid.New(),
			Status: constants.StatusCompleted,
			Data:   &entity.ExtractedData{InvoiceNumber: "INV-10234"},
		}
	})

	It("quickbooks succeeds with a reference when no endpoint is set", func() {
		p := posting.NewQuickBooksPoster("", time.Second, logger)
		res := p.Post(context.Background(), inv)
		Expect(res.Success).To(BeTrue())
		Expect(res.Message).To(Equal("Successfully posted to QuickBooks"))
		Expect(res.ReferenceID).To(HavePrefix("QB-"))
	})

	It("ccc succeeds with a reference when no endpoint is set", func() {
		p := posting.NewCCCPoster("", time.Second, logger)
		res := p.Post(context.Background(), inv)
		Expect(res.Success).To(BeTrue())
		Expect(res.Message).To(Equal("Successfully posted to CCC ONE"))
		Expect(res.ReferenceID).To(HavePrefix("CCC-"))
	})
})

var _ = Describe("Poster names", func() {
	It("match the integration status keys", func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		Expect(posting.NewQuickBooksPoster("", 0, logger).Name()).To(Equal("quickbooks"))
		Expect(posting.NewCCCPoster("", 0, logger).Name()).To(Equal("cccOne"))
	})
})

var _ = Describe("Destination failures", func() {
	It("wraps the count of failed destinations", func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		inv := &entity.Invoice{ID: uuid.New(), Status: constants.StatusCompleted}
		repo := &StubRepository{invoice: inv}
		o := posting.NewOrchestrator(repo, []posting.Poster{
			&StubPoster{name: "quickbooks", result: entity.PostingResult{Success: false, Message: "down"}},
			&StubPoster{name: "cccOne", result: entity.PostingResult{Success: false, Message: "down"}},
		}, time.Second, logger)

		err := o.Post(context.Background(), inv.ID)
		Expect(err).To(MatchError(common.ErrPosting))
		Expect(err.Error()).To(ContainSubstring("2 of 2"))
		Expect(errors.Is(err, common.ErrPosting)).To(BeTrue())
	})
})
