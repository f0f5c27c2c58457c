package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/autoshop-labs/invoice-pipeline/internal/extraction"
	"github.com/autoshop-labs/invoice-pipeline/internal/recognition"
	"github.com/autoshop-labs/invoice-pipeline/internal/validation"
)

// runocr recognizes and extracts a single document without touching the
// database. Useful for tuning the regex set against real shop invoices.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <file-path>")
		os.Exit(2)
	}
	path := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	backend := recognition.NewTesseractBackend(recognition.Config{}, logger)
	engine := recognition.NewEngine(backend, logger)
	defer engine.Shutdown()

	sess, err := engine.Acquire(ctx)
	if err != nil {
		logger.Error("engine acquire", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	start := time.Now()
	text, err := sess.Recognize(ctx, path)
	if err != nil {
		logger.Error("recognize failed", "path", path, "error", err, "duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	fields := extraction.NewRegexParser().Parse(text)
	parts := validation.VerifyParts(fields.Parts)

	out := map[string]any{
		"invoice_number": fields.InvoiceNumber,
		"ro_number":      fields.RONumber,
		"date":           fields.Date,
		"total_amount":   fields.TotalAmount,
		"parts":          parts,
		"ocr_confidence": extraction.Score(fields),
		"drp_compliant":  validation.DRPCompliant(parts),
		"text_bytes":     len(text),
		"duration_ms":    time.Since(start).Milliseconds(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode output", "error", err)
		os.Exit(1)
	}
}
