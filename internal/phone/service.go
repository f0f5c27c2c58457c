package phone

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ttacon/libphonenumber"

	"github.com/autoshop-labs/invoice-pipeline/internal/common"
)

// Number is a leased temporary MMS intake number.
type Number struct {
	PhoneNumber string    `json:"phone_number"`
	ExpiresAt   time.Time `json:"expires_at"`
	Active      bool      `json:"active"`
}

// Service leases temporary phone numbers customers can text invoices to.
// Numbers expire after the configured TTL and are reaped in the
// background. The provider integration (Twilio/Vonage) is a stub
// boundary: numbers are generated locally until a provider is wired in.
type Service struct {
	region string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	numbers map[string]Number
}

func NewService(region string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if region == "" {
		region = "US"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		region:  region,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		numbers: make(map[string]Number),
	}
}

// Acquire leases a fresh number, normalized to E.164.
func (s *Service) Acquire() (Number, error) {
	raw := fmt.Sprintf("+1%03d%03d%04d", 200+rand.Intn(800), 200+rand.Intn(800), rand.Intn(10000))
	parsed, err := libphonenumber.Parse(raw, s.region)
	if err != nil {
		return Number{}, fmt.Errorf("generate number: %w", err)
	}

	n := Number{
		PhoneNumber: libphonenumber.Format(parsed, libphonenumber.E164),
		ExpiresAt:   s.now().Add(s.ttl),
		Active:      true,
	}

	s.mu.Lock()
	s.numbers[n.PhoneNumber] = n
	s.mu.Unlock()

	s.logger.Info("phone number acquired", "number", n.PhoneNumber, "expires_at", n.ExpiresAt)
	return n, nil
}

// Release returns a leased number. Unknown numbers are an ErrNotFound.
func (s *Service) Release(phoneNumber string) error {
	parsed, err := libphonenumber.Parse(phoneNumber, s.region)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	key := libphonenumber.Format(parsed, libphonenumber.E164)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[key]; !ok {
		return fmt.Errorf("%w: number %s not leased", common.ErrNotFound, key)
	}
	delete(s.numbers, key)
	s.logger.Info("phone number released", "number", key)
	return nil
}

// ListActive returns the currently leased, unexpired numbers.
func (s *Service) ListActive() []Number {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Number, 0, len(s.numbers))
	for _, n := range s.numbers {
		if n.ExpiresAt.After(now) {
			out = append(out, n)
		}
	}
	return out
}

// CleanupExpired drops expired leases and returns how many were removed.
func (s *Service) CleanupExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, n := range s.numbers {
		if !n.ExpiresAt.After(now) {
			delete(s.numbers, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired phone numbers reaped", "count", removed)
	}
	return removed
}

// Start runs the background reaper until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}
