package loan

import (
	"math/big"
	"math/rand"
	"testing"
)

func TestSplitDownsideScenario(t *testing.T) {
	// C=100_000_000, R=200_000_000, S_T=1: lender takes the whole escrow.
	lender, borrower := splitCollateral(
		big.NewInt(100_000_000), big.NewInt(200_000_000), big.NewInt(2), big.NewInt(1))
	if lender.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("expected lender to receive full collateral, got %s", lender)
	}
	if borrower.Sign() != 0 {
		t.Fatalf("expected borrower to receive nothing, got %s", borrower)
	}
}

func TestSplitMiddleScenario(t *testing.T) {
	// C=500_000_000, R=5_000_000, K=200, S_T=100: lender takes
	// ceil(5_000_000/100)=50_000 units, borrower the remainder.
	lender, borrower := splitCollateral(
		big.NewInt(500_000_000), big.NewInt(5_000_000), big.NewInt(200), big.NewInt(100))
	if lender.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected lender amount 50000, got %s", lender)
	}
	if borrower.Cmp(big.NewInt(499_950_000)) != 0 {
		t.Fatalf("expected borrower amount 499950000, got %s", borrower)
	}
}

func TestSplitUpsideScenario(t *testing.T) {
	// C=500_000_000, R=5_000_000, K=200, S_T=300: borrower entitlement is
	// floor((C*K-R)/S_T) = floor(99_995_000_000/300) = 333_316_666, lender
	// the remainder.
	lender, borrower := splitCollateral(
		big.NewInt(500_000_000), big.NewInt(5_000_000), big.NewInt(200), big.NewInt(300))
	if borrower.Cmp(big.NewInt(333_316_666)) != 0 {
		t.Fatalf("expected borrower amount 333316666, got %s", borrower)
	}
	if lender.Cmp(big.NewInt(166_683_334)) != 0 {
		t.Fatalf("expected lender amount 166683334, got %s", lender)
	}
}

func TestSplitMiddleRoundsUpForLender(t *testing.T) {
	// R=7, S_T=3: ceil(7/3)=3, the fractional dust goes to the lender.
	lender, borrower := splitCollateral(big.NewInt(100), big.NewInt(7), big.NewInt(50), big.NewInt(3))
	if lender.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected lender amount 3, got %s", lender)
	}
	if borrower.Cmp(big.NewInt(97)) != 0 {
		t.Fatalf("expected borrower amount 97, got %s", borrower)
	}
}

func TestSplitSumsToCollateralAcrossPriceDomain(t *testing.T) {
	collateral := big.NewInt(500_000_000)
	repayment := big.NewInt(5_000_000)
	strike := big.NewInt(200)
	for price := int64(1); price <= 500; price++ {
		lender, borrower := splitCollateral(collateral, repayment, strike, big.NewInt(price))
		sum := new(big.Int).Add(lender, borrower)
		if sum.Cmp(collateral) != 0 {
			t.Fatalf("price %d: split does not sum to collateral: %s + %s", price, lender, borrower)
		}
		if lender.Sign() < 0 || borrower.Sign() < 0 {
			t.Fatalf("price %d: negative split: %s / %s", price, lender, borrower)
		}
	}
}

func TestSplitSumsToCollateralRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		collateral := big.NewInt(rng.Int63n(1_000_000_000) + 1)
		repayment := big.NewInt(rng.Int63n(1_000_000_000_000) + 1)
		strike := big.NewInt(rng.Int63n(100_000) + 1)
		price := big.NewInt(rng.Int63n(100_000) + 1)
		lender, borrower := splitCollateral(collateral, repayment, strike, price)
		sum := new(big.Int).Add(lender, borrower)
		if sum.Cmp(collateral) != 0 {
			t.Fatalf("case %d: split does not sum to collateral %s: %s + %s",
				i, collateral, lender, borrower)
		}
		if lender.Sign() < 0 || borrower.Sign() < 0 {
			t.Fatalf("case %d: negative split: %s / %s", i, lender, borrower)
		}
	}
}

func TestSplitDownsideProperty(t *testing.T) {
	collateral := big.NewInt(1000)
	repayment := big.NewInt(50_000)
	strike := big.NewInt(1_000)
	for price := int64(1); int64(1000)*price < 50_000; price++ {
		lender, borrower := splitCollateral(collateral, repayment, strike, big.NewInt(price))
		if lender.Cmp(collateral) != 0 || borrower.Sign() != 0 {
			t.Fatalf("price %d: downside split wrong: %s / %s", price, lender, borrower)
		}
	}
}

func TestSplitUpsideProperty(t *testing.T) {
	collateral := big.NewInt(1000)
	repayment := big.NewInt(2_000)
	strike := big.NewInt(10)
	for price := int64(11); price <= 200; price++ {
		lender, borrower := splitCollateral(collateral, repayment, strike, big.NewInt(price))
		capValue := new(big.Int).Mul(collateral, strike)
		want := new(big.Int).Sub(capValue, repayment)
		want.Quo(want, big.NewInt(price))
		if want.Cmp(collateral) > 0 {
			want.Set(collateral)
		}
		if borrower.Cmp(want) != 0 {
			t.Fatalf("price %d: borrower %s, want %s", price, borrower, want)
		}
		sum := new(big.Int).Add(lender, borrower)
		if sum.Cmp(collateral) != 0 {
			t.Fatalf("price %d: split does not sum to collateral", price)
		}
	}
}

func TestSplitLargeValuesNoOverflow(t *testing.T) {
	// Values past the uint64 range exercise the big.Int paths around the
	// C*K_call boundary.
	collateral, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	repayment, _ := new(big.Int).SetString("987654321098765432109876543210", 10)
	strike := big.NewInt(1_000_000)
	price := big.NewInt(999_999)
	lender, borrower := splitCollateral(collateral, repayment, strike, price)
	sum := new(big.Int).Add(lender, borrower)
	if sum.Cmp(collateral) != 0 {
		t.Fatalf("large-value split does not sum to collateral: %s + %s", lender, borrower)
	}
}

func TestRefiEligibleRegions(t *testing.T) {
	collateral := big.NewInt(500_000_000)
	repayment := big.NewInt(5_000_000)
	strike := big.NewInt(200)
	cases := []struct {
		price int64
		want  bool
	}{
		{1, true},    // V=500e6 >= R, below cap
		{100, true},  // middle region
		{200, true},  // exactly at the cap
		{201, false}, // above the cap
		{300, false}, // upside
	}
	for _, tc := range cases {
		got := refiEligible(collateral, repayment, strike, big.NewInt(tc.price))
		if got != tc.want {
			t.Fatalf("price %d: refiEligible=%v, want %v", tc.price, got, tc.want)
		}
	}
	// Deep downside: value below repayment.
	if refiEligible(big.NewInt(100), big.NewInt(1_000_000), strike, big.NewInt(1)) {
		t.Fatalf("expected downside loan to be ineligible")
	}
}

func TestSettlementRegionBoundaries(t *testing.T) {
	collateral := big.NewInt(1_000)
	repayment := big.NewInt(10_000)
	strike := big.NewInt(50)
	cases := []struct {
		price int64
		want  string
	}{
		{9, "downside"},  // value 9_000 below repayment
		{10, "middle"},   // value exactly at repayment
		{50, "middle"},   // value exactly at the cap
		{51, "upside"},   // first tick above the cap
		{1000, "upside"}, // deep upside
	}
	for _, tc := range cases {
		got := settlementRegion(collateral, repayment, strike, big.NewInt(tc.price))
		if got != tc.want {
			t.Fatalf("price %d: region %q, want %q", tc.price, got, tc.want)
		}
	}
}

func TestWithinMaxLTV(t *testing.T) {
	collateral := big.NewInt(1_000)
	price := big.NewInt(100)
	// Collateral value 100_000; at 5000 bps the bound is 50_000.
	if !withinMaxLTV(collateral, big.NewInt(50_000), price, 5000) {
		t.Fatalf("expected repayment at the bound to pass")
	}
	if withinMaxLTV(collateral, big.NewInt(50_001), price, 5000) {
		t.Fatalf("expected repayment above the bound to fail")
	}
	if !withinMaxLTV(collateral, big.NewInt(1_000_000_000), price, 0) {
		t.Fatalf("expected zero bound to disable the check")
	}
}
