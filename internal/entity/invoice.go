package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/autoshop-labs/invoice-pipeline/constants"
)

// Invoice represents a scanned repair-shop invoice for data transfer
// between layers. Data stays nil until extraction completes and is only
// ever replaced wholesale by a pipeline stage.
type Invoice struct {
	ID               uuid.UUID               `json:"id"`
	Filename         string                  `json:"filename"`
	FileType         constants.FileType      `json:"file_type"`
	Source           constants.Source        `json:"source"`
	Status           constants.InvoiceStatus `json:"status"`
	Data             *ExtractedData          `json:"data,omitempty"`
	ProcessingErrors []string                `json:"processing_errors"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// ExtractedData is the structured payload produced by field extraction.
// Unmatched fields carry empty/zero defaults, never absence.
type ExtractedData struct {
	InvoiceNumber     string            `json:"invoice_number"`
	RONumber          string            `json:"ro_number"`
	Date              string            `json:"date"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	Parts             []PartLine        `json:"parts"`
	OCRConfidence     float64           `json:"ocr_confidence"`
	DRPCompliant      bool              `json:"drp_compliant"`
	IntegrationStatus map[string]bool   `json:"integration_status,omitempty"`
	ValidationResults ValidationResults `json:"validation_results"`
}

// PartLine is a single extracted part row.
type PartLine struct {
	PartNumber  string          `json:"part_number"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Verified    bool            `json:"verified"`
	OEM         bool            `json:"oem"`
}

// ValidationResults summarizes the compliance checks run over the payload.
type ValidationResults struct {
	PriceVerified       bool     `json:"price_verified"`
	PartNumbersVerified bool     `json:"part_numbers_verified"`
	DRPRulesChecked     bool     `json:"drp_rules_checked"`
	Errors              []string `json:"errors"`
}

// PostingResult is the three-field outcome every destination poster returns.
type PostingResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id,omitempty"`
}
