package transfer

import (
	"context"

	"github.com/italolelis/mediafetch/internal/telemetry"
)

// InstrumentedFetcher wraps Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher    Fetcher
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry, clientType string) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:    fetcher,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Fetch retrieves a chunk with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, req ChunkRequest) ([]byte, error) {
	var result []byte

	var err error

	instrumentedErr := f.telemetry.InstrumentClientOperation(ctx, f.clientType, "fetch_chunk", func(ctx context.Context) error {
		result, err = f.fetcher.Fetch(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
