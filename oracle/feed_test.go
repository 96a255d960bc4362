package oracle

import (
	"errors"
	"math/big"
	"testing"
)

var reporter = [20]byte{0xAA}

func postRound(t *testing.T, f *Feed, id uint64, answer int64, at int64) {
	t.Helper()
	if err := f.Post(reporter, Round{RoundID: id, Answer: big.NewInt(answer), UpdatedAt: at}); err != nil {
		t.Fatalf("post round %d: %v", id, err)
	}
}

func TestPriceAtPicksFirstRoundAfterTimestamp(t *testing.T) {
	feed := NewFeed("VOL/USD", reporter, 0)
	postRound(t, feed, 1, 90, 1000)
	postRound(t, feed, 2, 100, 2000)
	postRound(t, feed, 3, 110, 3000)

	price, valid := feed.priceAt(1500)
	if !valid || price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected round 2 answer, got %v/%v", price, valid)
	}
	// A round exactly at the timestamp is usable.
	price, valid = feed.priceAt(3000)
	if !valid || price.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("expected round 3 answer, got %v/%v", price, valid)
	}
}

func TestPriceAtInvalidBeforeFreshRound(t *testing.T) {
	feed := NewFeed("VOL/USD", reporter, 0)
	postRound(t, feed, 1, 90, 1000)
	if _, valid := feed.priceAt(1500); valid {
		t.Fatalf("round older than the timestamp must not witness the price")
	}
	postRound(t, feed, 2, 95, 1600)
	price, valid := feed.priceAt(1500)
	if !valid || price.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("expected fresh round to satisfy the read, got %v/%v", price, valid)
	}
}

func TestPriceAtStalenessBound(t *testing.T) {
	feed := NewFeed("VOL/USD", reporter, 300)
	postRound(t, feed, 1, 90, 10_000)
	// The first round after the timestamp lands 500s later, beyond the
	// 300s bound.
	if _, valid := feed.priceAt(9_500); valid {
		t.Fatalf("expected stale read to be invalid")
	}
	price, valid := feed.priceAt(9_800)
	if !valid || price.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected in-bound read to be valid, got %v/%v", price, valid)
	}
}

func TestPostEnforcesOrderingAndAuth(t *testing.T) {
	feed := NewFeed("VOL/USD", reporter, 0)
	postRound(t, feed, 5, 100, 1000)
	if err := feed.Post(reporter, Round{RoundID: 5, Answer: big.NewInt(101), UpdatedAt: 1100}); !errors.Is(err, errRoundOrder) {
		t.Fatalf("expected round ID replay rejection, got %v", err)
	}
	if err := feed.Post(reporter, Round{RoundID: 6, Answer: big.NewInt(101), UpdatedAt: 900}); !errors.Is(err, errRoundOrder) {
		t.Fatalf("expected timestamp regression rejection, got %v", err)
	}
	if err := feed.Post(reporter, Round{RoundID: 6, Answer: big.NewInt(0), UpdatedAt: 1100}); !errors.Is(err, errBadRound) {
		t.Fatalf("expected non-positive answer rejection, got %v", err)
	}
	other := [20]byte{0xBB}
	if err := feed.Post(other, Round{RoundID: 6, Answer: big.NewInt(101), UpdatedAt: 1100}); !errors.Is(err, ErrUnauthorizedReporter) {
		t.Fatalf("expected reporter auth rejection, got %v", err)
	}
}

func TestRegistryRoutesByConfigPayload(t *testing.T) {
	registry := NewRegistry()
	feed := NewFeed("vol/usd", reporter, 0)
	if err := registry.AddFeed(feed); err != nil {
		t.Fatalf("add feed: %v", err)
	}
	if err := registry.AddFeed(NewFeed("VOL/USD", reporter, 0)); err == nil {
		t.Fatalf("expected duplicate feed rejection")
	}
	postRound(t, feed, 1, 123, 1000)

	price, valid := registry.PriceAt([]byte("VOL/USD"), 1000)
	if !valid || price.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("expected registry read to hit the feed, got %v/%v", price, valid)
	}
	if _, valid := registry.PriceAt([]byte("OTHER/USD"), 1000); valid {
		t.Fatalf("unknown feed must be an invalid read")
	}
}
