package fetcher

import (
	"context"

	"github.com/archiveforge/docscrawler/pkg/failure"
)

/*
Responsibilities

- Retrieve one URL's content by one of two variants (HTTP, browser-render)
- Enforce the allowed-base / max-body-size / timeout contract uniformly
- Extract candidate links and classify the result; never parse beyond that

The engine selects a variant explicitly per §9's "two-variant fetcher
contract" redesign; there is no runtime attribute probing between them.
*/

// Fetcher is the single contract both variants implement.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Result, failure.ClassifiedError)
}
