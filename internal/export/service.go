package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
)

// Service is a tiny façade over the invoice store that produces XLSX
// bytes for exports.
type Service struct {
	repo   repository.InvoiceRepository
	logger *slog.Logger
}

func NewService(repo repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportInvoicesXLSX returns an XLSX workbook (as bytes) of all invoice
// records with their key extracted fields.
func (s *Service) ExportInvoicesXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	invoices, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Filename",
		"Status",
		"Source",
		"Invoice Number",
		"RO Number",
		"Date",
		"Total Amount",
		"Parts",
		"OCR Confidence",
		"DRP Compliant",
		"Created At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, inv := range invoices {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, inv.Filename)
		write(2, string(inv.Status))
		write(3, string(inv.Source))
		if inv.Data != nil {
			write(4, inv.Data.InvoiceNumber)
			write(5, inv.Data.RONumber)
			write(6, inv.Data.Date)
			write(7, inv.Data.TotalAmount.String())
			write(8, len(inv.Data.Parts))
			write(9, inv.Data.OCRConfidence)
			write(10, inv.Data.DRPCompliant)
		}
		write(11, inv.CreatedAt.Format(time.RFC3339))
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}

	s.logger.Info("exported invoices",
		"rows", len(invoices),
		"bytes", buf.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
