package chainmarket

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/chain"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"go.uber.org/zap"
)

// SelectBid picks the winning bid: minimum price, ties broken by earliest
// collected_at, then by lexicographic provider address. Deterministic over
// any input order. Returns nil for an empty set.
func SelectBid(bids []entities.Bid) *entities.Bid {
	if len(bids) == 0 {
		return nil
	}

	sorted := make([]entities.Bid, len(bids))
	copy(sorted, bids)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if !a.CollectedAt.Equal(b.CollectedAt) {
			return a.CollectedAt.Before(b.CollectedAt)
		}
		return a.ProviderAddress < b.ProviderAddress
	})

	return &sorted[0]
}

// collectBids polls the marketplace query endpoint for open bids until the
// bid window elapses or ctx is cancelled. Bids are de-duplicated by id;
// transient query failures are logged and retried on the next tick since the
// window itself bounds the wait.
func collectBids(ctx context.Context, client chain.Client, deploymentID uuid.UUID, dseq uint64, window, pollInterval time.Duration) ([]entities.Bid, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	seen := map[string]entities.Bid{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			bids := make([]entities.Bid, 0, len(seen))
			for _, b := range seen {
				bids = append(bids, b)
			}
			return bids, nil
		case <-ticker.C:
			bids, err := client.QueryBids(ctx, deploymentID, dseq)
			if err != nil {
				if entities.IsTransient(err) {
					logger.Debug("bid query failed, will retry",
						zap.Uint64("dseq", dseq), zap.Error(err))
					continue
				}
				return nil, err
			}
			for _, b := range bids {
				if _, ok := seen[b.ID]; !ok {
					seen[b.ID] = b
				}
			}
		}
	}
}
