package headless

import (
	"context"
	"errors"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// Noop implements scrape.Fetcher but always errors, for builds where
// rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ scrape.FetchRequest) (scrape.FetchResponse, error) {
	return scrape.FetchResponse{}, errors.New("headless fetcher not configured")
}
