package formsource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opsboard/leadsync/internal/lead"
)

const (
	defaultPageSize = 1000
	// maxPages bounds the cursor walk. Hitting it means the cursor stopped
	// advancing, not that the form has more than maxPages*pageSize answers.
	defaultMaxPages = 100
)

type FetcherOptions struct {
	FieldRefs *FieldRefs
	PageSize  int
	MaxPages  int
	Logger    *zap.Logger
}

// Fetcher walks the provider's cursor pagination and returns every
// submission as a flat lead record.
type Fetcher struct {
	client   Client
	refs     FieldRefs
	pageSize int
	maxPages int
	logger   *zap.Logger
}

func NewFetcher(client Client, opts FetcherOptions) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	refs := DefaultFieldRefs()
	if opts.FieldRefs != nil {
		refs = *opts.FieldRefs
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   client,
		refs:     refs,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   logger,
	}, nil
}

// FetchAll accumulates every page of responses for the form, mapped to lead
// records and deduplicated by response token. Stops when a page comes back
// short, empty, without a usable cursor, or at the page cap. Any provider
// error fails the whole operation; no partial result is returned.
func (f *Fetcher) FetchAll(ctx context.Context, formID, token string) ([]lead.Lead, error) {
	var (
		leads      []lead.Lead
		seen       = map[string]struct{}{}
		after      string
		totalItems int
	)

	for page := 1; ; page++ {
		if page > f.maxPages {
			f.logger.Warn("pagination safety cap reached",
				zap.Int("max_pages", f.maxPages),
				zap.Int("fetched", len(leads)))
			break
		}

		result, err := f.client.Responses(ctx, formID, token, f.pageSize, after)
		if err != nil {
			return nil, err
		}
		if page == 1 {
			totalItems = result.TotalItems
			f.logger.Info("fetching form responses",
				zap.String("form_id", formID),
				zap.Int("total_announced", totalItems))
		}
		f.logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("items", len(result.Items)),
			zap.Int("accumulated", len(leads)+len(result.Items)))

		if len(result.Items) == 0 {
			break
		}
		for _, item := range result.Items {
			if item.Token == "" {
				continue
			}
			if _, dup := seen[item.Token]; dup {
				continue
			}
			seen[item.Token] = struct{}{}
			leads = append(leads, MapResponse(f.refs, item))
		}
		if len(result.Items) < f.pageSize {
			break
		}
		last := result.Items[len(result.Items)-1]
		if last.Token == "" {
			f.logger.Warn("last item on page has no cursor token, stopping pagination",
				zap.Int("page", page))
			break
		}
		after = last.Token
	}

	if totalItems > 0 && len(leads) != totalItems {
		f.logger.Warn("fetched total differs from announced total",
			zap.Int("fetched", len(leads)),
			zap.Int("announced", totalItems))
	}
	return leads, nil
}
