package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalengine/internal/model"
)

// Query asks a ContractSource for the option chain of one expiry.
type Query struct {
	Underlying string
	Expiry     time.Time
	OptionType model.OptionType
	Near       float64 // reference price; sources may limit strikes around it
}

// ContractSource lists option contracts.
type ContractSource interface {
	Contracts(ctx context.Context, q Query) ([]model.Contract, error)
}

// StrikeStep returns the listed strike interval for an underlying.
func StrikeStep(underlying string) float64 {
	switch strings.ToUpper(underlying) {
	case "BANKNIFTY", "SENSEX", "BANKEX":
		return 100
	case "MIDCPNIFTY":
		return 25
	default: // NIFTY, FINNIFTY
		return 50
	}
}

// OptionSymbol formats an NFO trading symbol, e.g. NIFTY06MAR2522150CE.
func OptionSymbol(underlying string, expiry time.Time, strike float64, opt model.OptionType) string {
	return strings.ToUpper(underlying) +
		strings.ToUpper(expiry.Format("02Jan06")) +
		strconv.FormatFloat(strike, 'f', -1, 64) +
		string(opt)
}

// Resolver picks the concrete contract for an intent.
type Resolver struct {
	src ContractSource
}

// NewResolver creates a resolver over src.
func NewResolver(src ContractSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the contract and transaction direction for an entry
// intent. Exits reuse the entry ticket's contract with the opposite
// transaction.
func (r *Resolver) Resolve(ctx context.Context, in Intent) (model.Contract, model.TransactionType, error) {
	if in.Action == model.ActionExit {
		if in.Closing == nil {
			return model.Contract{}, "", fmt.Errorf("%w: exit without entry ticket", model.ErrUnresolvableContract)
		}
		return in.Closing.Contract, opposite(in.Closing.Transaction), nil
	}

	pol := in.Policy.Normalize()
	if in.Bias != model.Long && in.Bias != model.Short {
		return model.Contract{}, "", fmt.Errorf("%w: entry without bias", model.ErrUnresolvableContract)
	}

	if pol.Segment == SegmentEquity {
		txn := model.Buy
		if in.Bias == model.Short {
			txn = model.Sell
		}
		return model.Contract{
			Symbol:     in.Underlying,
			Token:      in.Token,
			Exchange:   in.Exchange,
			Underlying: in.Underlying,
		}, txn, nil
	}

	opt, txn := optionLeg(in.Bias, pol.Direction)

	expiry, err := ExpiryDate(pol.Expiry, in.At)
	if err != nil {
		return model.Contract{}, "", err
	}

	chain, err := r.src.Contracts(ctx, Query{
		Underlying: in.Underlying,
		Expiry:     expiry,
		OptionType: opt,
		Near:       in.ReferencePrice,
	})
	if err != nil {
		return model.Contract{}, "", err
	}
	if len(chain) == 0 {
		return model.Contract{}, "", fmt.Errorf("%w: no %s contracts for %s expiring %s",
			model.ErrUnresolvableContract, opt, in.Underlying, expiry.Format("2006-01-02"))
	}

	target := targetStrike(in.ReferencePrice, StrikeStep(in.Underlying), opt, pol.Strike)
	return nearest(chain, target), txn, nil
}

// optionLeg maps a directional bias to the option bought or written.
// Buying expresses a long view with calls; writing expresses it with puts.
func optionLeg(bias model.Side, dir Direction) (model.OptionType, model.TransactionType) {
	if dir == DirectionSell {
		if bias == model.Long {
			return model.OptionPE, model.Sell
		}
		return model.OptionCE, model.Sell
	}
	if bias == model.Long {
		return model.OptionCE, model.Buy
	}
	return model.OptionPE, model.Buy
}

// targetStrike rounds the reference to the nearest listed strike, then
// moves one step in or out of the money.
func targetStrike(ref, step float64, opt model.OptionType, pol StrikePolicy) float64 {
	atm := math.Round(ref/step) * step
	shift := 0.0
	switch pol {
	case StrikeITM:
		shift = -step
	case StrikeOTM:
		shift = step
	}
	if opt == model.OptionPE {
		shift = -shift
	}
	return atm + shift
}

// nearest picks the contract with the strike closest to target; ties go to
// the lower strike.
func nearest(chain []model.Contract, target float64) model.Contract {
	best := chain[0]
	bestDist := math.Abs(best.Strike - target)
	for _, c := range chain[1:] {
		d := math.Abs(c.Strike - target)
		if d < bestDist || (d == bestDist && c.Strike < best.Strike) {
			best, bestDist = c, d
		}
	}
	return best
}

// SyntheticChain generates a listed-looking option chain around the
// reference price. Used for paper trading and backtests where no broker
// session exists.
type SyntheticChain struct {
	Width int // strikes on each side of ATM; default 10
}

func (s SyntheticChain) Contracts(_ context.Context, q Query) ([]model.Contract, error) {
	if q.Near <= 0 {
		return nil, fmt.Errorf("%w: no reference price for %s", model.ErrUnresolvableContract, q.Underlying)
	}
	width := s.Width
	if width <= 0 {
		width = 10
	}
	step := StrikeStep(q.Underlying)
	atm := math.Round(q.Near/step) * step

	out := make([]model.Contract, 0, 2*width+1)
	for i := -width; i <= width; i++ {
		strike := atm + float64(i)*step
		if strike <= 0 {
			continue
		}
		sym := OptionSymbol(q.Underlying, q.Expiry, strike, q.OptionType)
		out = append(out, model.Contract{
			Symbol:     sym,
			Token:      sym,
			Exchange:   "NFO",
			Underlying: strings.ToUpper(q.Underlying),
			Strike:     strike,
			Expiry:     q.Expiry,
			OptionType: q.OptionType,
		})
	}
	return out, nil
}

// ContractLister is the broker call behind BrokerChain.
type ContractLister interface {
	ResolveContracts(ctx context.Context, underlying string, expiry time.Time, opt model.OptionType) ([]model.Contract, error)
}

// BrokerChain lists contracts through the broker API and caches each
// (underlying, expiry, type) chain for the life of the process.
type BrokerChain struct {
	lister ContractLister

	mu    sync.Mutex
	cache map[string][]model.Contract
}

// NewBrokerChain wraps a broker contract lister.
func NewBrokerChain(l ContractLister) *BrokerChain {
	return &BrokerChain{lister: l, cache: make(map[string][]model.Contract)}
}

func (b *BrokerChain) Contracts(ctx context.Context, q Query) ([]model.Contract, error) {
	key := strings.ToUpper(q.Underlying) + "|" + q.Expiry.Format("2006-01-02") + "|" + string(q.OptionType)

	b.mu.Lock()
	cached, ok := b.cache[key]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	chain, err := b.lister.ResolveContracts(ctx, q.Underlying, q.Expiry, q.OptionType)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", key, err)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Strike < chain[j].Strike })

	if len(chain) > 0 {
		b.mu.Lock()
		b.cache[key] = chain
		b.mu.Unlock()
	}
	return chain, nil
}
