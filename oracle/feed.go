// Package oracle provides the round-based price feed backing the settlement
// engine's oracle capability. Feeds never fail loudly: every flavour of bad
// data is reported as an invalid read so settlement delays instead of
// progressing on a guessed price.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	errFeedExists   = errors.New("oracle: feed already registered")
	errUnknownFeed  = errors.New("oracle: unknown feed")
	errBadRound     = errors.New("oracle: invalid round")
	errRoundOrder   = errors.New("oracle: round out of order")
	// ErrUnauthorizedReporter reports a round posted by a non-reporter.
	ErrUnauthorizedReporter = errors.New("oracle: reporter not authorised")
)

// Round is a single price observation posted by a reporter.
type Round struct {
	RoundID   uint64
	Answer    *big.Int
	UpdatedAt int64
}

// Feed holds the ordered round history for one asset pair.
type Feed struct {
	mu sync.RWMutex

	pair     string
	reporter [20]byte
	// maxDelay bounds how far past the requested timestamp the answering
	// round may sit before the read is considered stale.
	maxDelay int64
	rounds   []Round
}

// NewFeed creates a feed for the given pair, accepting rounds only from the
// supplied reporter. maxDelay of zero disables the staleness bound.
func NewFeed(pair string, reporter [20]byte, maxDelay int64) *Feed {
	return &Feed{
		pair:     normalizePair(pair),
		reporter: reporter,
		maxDelay: maxDelay,
	}
}

// Pair returns the canonical pair identifier served by the feed.
func (f *Feed) Pair() string {
	if f == nil {
		return ""
	}
	return f.pair
}

// Post appends a round to the feed. Round identifiers and timestamps must be
// strictly increasing; answers must be positive.
func (f *Feed) Post(reporter [20]byte, round Round) error {
	if f == nil {
		return errUnknownFeed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if reporter != f.reporter {
		return ErrUnauthorizedReporter
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return fmt.Errorf("%w: answer must be positive", errBadRound)
	}
	if round.UpdatedAt <= 0 {
		return fmt.Errorf("%w: timestamp required", errBadRound)
	}
	if len(f.rounds) > 0 {
		last := f.rounds[len(f.rounds)-1]
		if round.RoundID <= last.RoundID || round.UpdatedAt < last.UpdatedAt {
			return errRoundOrder
		}
	}
	f.rounds = append(f.rounds, Round{
		RoundID:   round.RoundID,
		Answer:    new(big.Int).Set(round.Answer),
		UpdatedAt: round.UpdatedAt,
	})
	return nil
}

// priceAt returns the answer of the first round observed at or after the
// requested timestamp. A round recorded before the timestamp cannot witness
// the price at it, so reads stay invalid until a fresh round lands.
func (f *Feed) priceAt(at int64) (*big.Int, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, round := range f.rounds {
		if round.UpdatedAt < at {
			continue
		}
		if f.maxDelay > 0 && round.UpdatedAt-at > f.maxDelay {
			// The first usable round landed too long after the requested
			// timestamp; treat it as stale rather than pretend precision.
			return nil, false
		}
		if round.Answer == nil || round.Answer.Sign() <= 0 {
			return nil, false
		}
		return new(big.Int).Set(round.Answer), true
	}
	return nil, false
}

// Registry routes price reads to the feed named by the opaque oracle config
// payload. It implements the settlement engine's oracle capability.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
}

// NewRegistry creates an empty feed registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]*Feed)}
}

// AddFeed registers a feed under its pair identifier.
func (r *Registry) AddFeed(feed *Feed) error {
	if r == nil || feed == nil {
		return errUnknownFeed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.feeds[feed.Pair()]; exists {
		return fmt.Errorf("%w: %s", errFeedExists, feed.Pair())
	}
	r.feeds[feed.Pair()] = feed
	return nil
}

// Feed returns the feed registered for the pair.
func (r *Registry) Feed(pair string) (*Feed, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[normalizePair(pair)]
	return feed, ok
}

// PriceAt implements the oracle capability: config carries the pair
// identifier the loan was originated against. Missing feeds are an invalid
// read, not an error.
func (r *Registry) PriceAt(config []byte, at int64) (*big.Int, bool) {
	feed, ok := r.Feed(string(config))
	if !ok {
		return nil, false
	}
	return feed.priceAt(at)
}

func normalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}
