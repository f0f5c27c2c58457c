package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
	"github.com/autoshop-labs/invoice-pipeline/internal/pipeline"
	"github.com/autoshop-labs/invoice-pipeline/internal/recognition"
	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

// MemoryRepository is an in-memory InvoiceRepository for the processor tests.
type MemoryRepository struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*entity.Invoice
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{invoices: make(map[uuid.UUID]*entity.Invoice)}
}

func (r *MemoryRepository) Create(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = constants.StatusProcessing
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return inv, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *inv
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Invoice, 0, len(r.invoices))
	for _, inv := range r.invoices {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, upd repository.InvoiceUpdate) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, errors.New("not found")
	}
	if upd.Status != nil {
		inv.Status = *upd.Status
	}
	if upd.Data != nil {
		cp := *upd.Data
		inv.Data = &cp
	}
	if upd.ProcessingErrors != nil {
		inv.ProcessingErrors = append([]string(nil), (*upd.ProcessingErrors)...)
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

// TextBackend returns canned text regardless of the input file.
type TextBackend struct {
	text string
	err  error
}

func (b *TextBackend) Init(ctx context.Context) error { return nil }
func (b *TextBackend) Close() error                   { return nil }
func (b *TextBackend) Recognize(ctx context.Context, path string) (string, error) {
	return b.text, b.err
}

var _ = Describe("Processor", func() {
	var (
		repo    *MemoryRepository
		backend *TextBackend
		engine  *recognition.Engine
		proc    *pipeline.Processor
		logger  *slog.Logger
		ctx     context.Context
		inv     *entity.Invoice
		path    string
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		repo = NewMemoryRepository()
		backend = &TextBackend{}
		engine = recognition.NewEngine(backend, logger)
		proc = pipeline.NewProcessor(repo, engine, nil, logger)
		ctx = context.Background()

		path = filepath.Join(GinkgoT().TempDir(), "invoice.pdf")
		Expect(os.WriteFile(path, []byte("%PDF-1.4"), 0o644)).To(Succeed())

		var err error
		inv, err = repo.Create(ctx, &entity.Invoice{
			Filename: "invoice.pdf",
			FileType: constants.FileTypePDF,
			Source:   constants.SourceUpload,
			Status:   constants.StatusProcessing,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("completes with a full payload on clean text", func() {
		backend.text = "INV-10234 RO55021 04/02/2024 $1,245.00\nOEM1234 Front Bumper $450.00"

		Expect(proc.Process(ctx, inv.ID, path)).To(Succeed())

		got, err := repo.GetByID(ctx, inv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(constants.StatusCompleted))
		Expect(got.Data).NotTo(BeNil())
		Expect(got.Data.InvoiceNumber).To(Equal("INV-10234"))
		Expect(got.Data.RONumber).To(Equal("RO55021"))
		Expect(got.Data.Date).To(Equal("04/02/2024"))
		Expect(got.Data.TotalAmount.Equal(decimal.RequireFromString("1245.00"))).To(BeTrue())
		Expect(got.Data.OCRConfidence).To(Equal(1.0))
		Expect(got.Data.DRPCompliant).To(BeTrue())
		Expect(got.Data.Parts).To(HaveLen(1))
		Expect(got.Data.Parts[0].Verified).To(BeTrue())
		Expect(got.Data.Parts[0].OEM).To(BeTrue())
		Expect(got.Data.ValidationResults.Errors).To(BeEmpty())
	})

	It("completes with empty fields on garbage text", func() {
		backend.text = "#### no invoice here ####"

		Expect(proc.Process(ctx, inv.ID, path)).To(Succeed())

		got, err := repo.GetByID(ctx, inv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(constants.StatusCompleted))
		Expect(got.Data.OCRConfidence).To(Equal(0.0))
		Expect(got.Data.Parts).To(BeEmpty())
	})

	It("fails the record when the source file is unreadable", func() {
		missing := filepath.Join(GinkgoT().TempDir(), "nope.pdf")

		err := proc.Process(ctx, inv.ID, missing)
		Expect(err).To(HaveOccurred())

		got, gerr := repo.GetByID(ctx, inv.ID)
		Expect(gerr).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(constants.StatusFailed))
		Expect(got.ProcessingErrors).NotTo(BeEmpty())
		Expect(got.Data).To(BeNil())
	})

	It("fails the record when recognition errors", func() {
		backend.err = errors.New("ocr blew up")

		err := proc.Process(ctx, inv.ID, path)
		Expect(err).To(HaveOccurred())

		got, gerr := repo.GetByID(ctx, inv.ID)
		Expect(gerr).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(constants.StatusFailed))
		Expect(got.ProcessingErrors).To(HaveLen(1))
		Expect(got.ProcessingErrors[0]).To(ContainSubstring("ocr blew up"))
	})

	It("releases the engine permit on failure", func() {
		backend.err = errors.New("ocr blew up")
		Expect(proc.Process(ctx, inv.ID, path)).NotTo(Succeed())

		// Pool size 1: a leaked permit would block the next record.
		fresh, err := repo.Create(ctx, &entity.Invoice{
			Filename: "retry.pdf",
			FileType: constants.FileTypePDF,
			Source:   constants.SourceUpload,
			Status:   constants.StatusProcessing,
		})
		Expect(err).NotTo(HaveOccurred())

		backend.err = nil
		backend.text = "INV-10234"
		retryCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(proc.Process(retryCtx, fresh.ID, path)).To(Succeed())
	})

	It("clears stale errors left on a processing record", func() {
		// A re-queued intake can carry transient errors from an earlier
		// worker while the record is still processing.
		stale := []string{"transient storage error"}
		_, err := repo.Update(ctx, inv.ID, repository.InvoiceUpdate{ProcessingErrors: &stale})
		Expect(err).NotTo(HaveOccurred())

		backend.text = "INV-10234 RO55021 04/02/2024 $1,245.00"
		Expect(proc.Process(ctx, inv.ID, path)).To(Succeed())

		got, err := repo.GetByID(ctx, inv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(constants.StatusCompleted))
		Expect(got.ProcessingErrors).To(BeEmpty())
	})

	It("rejects a record that is not processing without mutating it", func() {
		backend.text = "INV-10234"
		for _, status := range []constants.InvoiceStatus{
			constants.StatusCompleted,
			constants.StatusFailed,
			constants.StatusPendingVerification,
			constants.StatusPosted,
		} {
			s := status
			_, err := repo.Update(ctx, inv.ID, repository.InvoiceUpdate{Status: &s})
			Expect(err).NotTo(HaveOccurred())

			err = proc.Process(ctx, inv.ID, path)
			Expect(err).To(MatchError(common.ErrInvalidState))

			got, gerr := repo.GetByID(ctx, inv.ID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(s))
			Expect(got.Data).To(BeNil())
		}
	})
})
