package chainmarket

import (
	"testing"
	"time"

	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

func bid(id, addr string, price uint64, collectedAt time.Time) entities.Bid {
	return entities.Bid{ID: id, ProviderAddress: addr, Price: price, CollectedAt: collectedAt}
}

func TestSelectBid(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		bids []entities.Bid
		want string // winning provider address, "" means nil
	}{
		{
			name: "empty set",
			bids: nil,
			want: "",
		},
		{
			name: "single bid",
			bids: []entities.Bid{bid("1", "0xaaa", 10, base)},
			want: "0xaaa",
		},
		{
			name: "lowest price wins over earlier collection",
			bids: []entities.Bid{
				bid("1", "B", 5, base.Add(10*time.Second)),
				bid("2", "A", 5, base.Add(9*time.Second)),
				bid("3", "C", 3, base.Add(20*time.Second)),
			},
			want: "C",
		},
		{
			name: "price tie broken by earliest collected_at",
			bids: []entities.Bid{
				bid("1", "B", 5, base.Add(10*time.Second)),
				bid("2", "A", 5, base.Add(9*time.Second)),
			},
			want: "A",
		},
		{
			name: "full tie broken by lexicographic address",
			bids: []entities.Bid{
				bid("1", "0xbbb", 5, base),
				bid("2", "0xaaa", 5, base),
			},
			want: "0xaaa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectBid(tt.bids)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("SelectBid = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("SelectBid = nil, want a winner")
			}
			if got.ProviderAddress != tt.want {
				t.Errorf("winner = %s, want %s", got.ProviderAddress, tt.want)
			}
		})
	}
}

// Selection must not depend on the order bids arrived in.
func TestSelectBidOrderIndependent(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := bid("1", "B", 5, base.Add(10*time.Second))
	b := bid("2", "A", 5, base.Add(9*time.Second))
	c := bid("3", "C", 3, base.Add(20*time.Second))

	orders := [][]entities.Bid{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for i, bids := range orders {
		winner := SelectBid(bids)
		if winner == nil || winner.ProviderAddress != "C" {
			t.Errorf("order %d: winner = %+v, want C", i, winner)
		}
	}
}

func TestSelectBidDoesNotMutateInput(t *testing.T) {
	base := time.Now()
	bids := []entities.Bid{
		bid("1", "Z", 9, base),
		bid("2", "A", 1, base),
	}
	SelectBid(bids)
	if bids[0].ProviderAddress != "Z" || bids[1].ProviderAddress != "A" {
		t.Error("SelectBid reordered the caller's slice")
	}
}
