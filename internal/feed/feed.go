// Package feed supplies trade signals from an external source
package feed

import (
	"context"

	"signal-relay/internal/models"
)

// Source returns the current contents of the signal feed. Rows already
// processed may appear again; deduplication is the caller's concern.
type Source interface {
	Fetch(ctx context.Context) ([]models.Signal, error)
}
