package ports

import (
	"context"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// EventSource produces platform events until ctx is cancelled or Stop is
// called. Both channels are closed when the source finishes.
type EventSource interface {
	Start(ctx context.Context) (<-chan *domain.PlatformEvent, <-chan error)
	Stop() error
}

// EventParser decodes one line of a platform event stream.
type EventParser interface {
	Parse(line string) (*domain.PlatformEvent, error)
	Format() string
}
