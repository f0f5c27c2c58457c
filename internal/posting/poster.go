package posting

import (
	"context"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// Poster is a downstream business system that accepts a finalized
// invoice. Implementations report outcomes as results, never panics or
// errors: a transport failure is a failed result with a message.
type Poster interface {
	Name() string
	Post(ctx context.Context, inv *entity.Invoice) entity.PostingResult
}
