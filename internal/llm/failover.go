package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/soyeahso/coursemate/internal/logging"
)

// FailoverClient sends each request to the primary model and moves down
// the fallback list while providers fail with retryable errors.
type FailoverClient struct {
	registry *Registry
	chain    []string
	log      *logging.Logger
}

// NewFailoverClient builds the model chain primary, fallbacks... with
// duplicates removed.
func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	chain := []string{primary}
	for _, m := range fallbacks {
		if m != "" && !slices.Contains(chain, m) {
			chain = append(chain, m)
		}
	}
	return &FailoverClient{registry: registry, chain: chain, log: log.Sub("failover")}
}

func (f *FailoverClient) Name() string { return "failover:" + f.chain[0] }

// Complete returns the first successful response. A non-retryable failure
// or a cancelled context ends the chain early; otherwise every attempt's
// error is joined into the result.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var attempts []error
	for i, model := range f.chain {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("skipping model without provider")
			attempts = append(attempts, err)
			continue
		}

		req.Model = model
		resp, err := client.Complete(ctx, req)
		switch {
		case err == nil:
			if i > 0 {
				f.log.Info().Str("model", model).Int("attempt", i+1).Msg("served by fallback model")
			}
			return resp, nil
		case ctx.Err() != nil, !IsRetryable(err):
			return nil, err
		}

		f.log.Warn().Str("model", model).Str("provider", client.Name()).Err(err).Msg("provider failed, trying next model")
		attempts = append(attempts, fmt.Errorf("%s: %w", model, err))
	}
	return nil, errors.Join(attempts...)
}
