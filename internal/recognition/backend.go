package recognition

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/autoshop-labs/invoice-pipeline/constants"
)

// Backend is the recognition strategy behind the Engine. Init is called
// once per engine generation before the first Recognize; Close terminates
// the backend so a later Init starts fresh.
type Backend interface {
	Init(ctx context.Context) error
	Recognize(ctx context.Context, path string) (string, error)
	Close() error
}

// Config configures the tesseract/poppler backend.
type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit
}

// TesseractBackend shells out to tesseract for images and rasterized PDFs,
// preferring a PDF's embedded text layer when one exists.
type TesseractBackend struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractBackend(cfg Config, logger *slog.Logger) *TesseractBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &TesseractBackend{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Init warms up the backend by probing the tesseract binary. The probe is
// the expensive part of a real recognition session (model load happens on
// first invocation), so failures surface here instead of mid-pipeline.
func (b *TesseractBackend) Init(ctx context.Context) error {
	if _, _, err := b.runner.Run(ctx, b.cfg.Tesseract, "--version"); err != nil {
		return fmt.Errorf("tesseract unavailable: %w", err)
	}
	b.logger.Debug("recognition backend initialized", "lang", b.cfg.TesseractLang)
	return nil
}

func (b *TesseractBackend) Close() error {
	b.logger.Debug("recognition backend terminated")
	return nil
}

// Recognize picks a strategy based on file extension.
func (b *TesseractBackend) Recognize(ctx context.Context, path string) (string, error) {
	switch constants.MapExtToFileType(filepath.Ext(path)) {
	case constants.FileTypePDF:
		return b.recognizePDF(ctx, path)
	case constants.FileTypeJPG, constants.FileTypePNG:
		txt, err := b.tesseractOCR(ctx, path)
		if err != nil {
			return "", err
		}
		return Normalize(txt), nil
	default:
		return "", fmt.Errorf("unsupported extension: %q", filepath.Ext(path))
	}
}

// recognizePDF tries the embedded text layer first and falls back to
// rasterize+OCR for scanned documents.
func (b *TesseractBackend) recognizePDF(ctx context.Context, path string) (string, error) {
	if txt, err := pdfTextLayer(path); err == nil && len(strings.TrimSpace(txt)) >= minTextLayerBytes {
		b.logger.Debug("pdf text layer used", "path", path, "bytes", len(txt))
		return Normalize(txt), nil
	}

	// pdftotext catches text layers the pure-Go reader chokes on.
	out, _, err := b.runner.Run(ctx, b.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err == nil && len(strings.TrimSpace(string(out))) >= minTextLayerBytes {
		b.logger.Debug("pdftotext used", "path", path, "bytes", len(out))
		return Normalize(string(out)), nil
	}

	return b.pdfToOCR(ctx, path)
}

// minTextLayerBytes is the threshold below which a PDF text layer is
// treated as absent (scanned document) and OCR takes over.
const minTextLayerBytes = 32

func pdfTextLayer(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (b *TesseractBackend) pdfToOCR(ctx context.Context, path string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "inv-pp-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			b.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", rerr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := b.runner.Run(ctx, b.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", b.cfg.DPI), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if b.cfg.MaxPages > 0 && len(matches) > b.cfg.MaxPages {
		matches = matches[:b.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no pages for %s", path)
	}

	var sb strings.Builder
	for _, img := range matches {
		txt, err := b.tesseractOCR(ctx, img)
		if err != nil {
			return "", err
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\f\n") // keep a clear page break marker
		}
		sb.WriteString(txt)
	}
	return Normalize(sb.String()), nil
}

func (b *TesseractBackend) tesseractOCR(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := b.runner.Run(ctx, b.cfg.Tesseract, path, "stdout", "-l", b.cfg.TesseractLang)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
