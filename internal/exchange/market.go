package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"treasuryarena/internal/models"
)

var ErrNoMarketData = errors.New("no venue returned market data")

// MarketFeed builds daily snapshots from the APYs the venues quote for one
// asset. The protocol with the best APY in one snapshot becomes the current
// protocol of the next.
type MarketFeed struct {
	venues []Venue
	asset  string
	now    func() time.Time

	mu      sync.Mutex
	current string
}

func NewMarketFeed(asset string, venues ...Venue) *MarketFeed {
	return &MarketFeed{
		venues: venues,
		asset:  asset,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (f *MarketFeed) Snapshot(ctx context.Context) (models.MarketSnapshot, error) {
	apys := make(map[string]float64, len(f.venues))
	var errs []error
	for _, v := range f.venues {
		apy, ok, err := v.GetAPY(ctx, f.asset)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
			continue
		}
		if ok {
			apys[v.Name()] = apy
		}
	}
	if len(apys) == 0 {
		return models.MarketSnapshot{}, errors.Join(append([]error{ErrNoMarketData}, errs...)...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	snap := models.MarketSnapshot{
		Date:            f.now(),
		ProtocolAPYs:    apys,
		Indicators:      map[string]float64{},
		Positions:       map[string]float64{},
		CurrentProtocol: f.current,
	}
	f.current = bestProtocol(apys)
	return snap, nil
}

func bestProtocol(apys map[string]float64) string {
	best, bestAPY := "", 0.0
	for name, apy := range apys {
		if best == "" || apy > bestAPY || (apy == bestAPY && name < best) {
			best, bestAPY = name, apy
		}
	}
	return best
}
