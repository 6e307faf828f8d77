// Package money provides fixed-point types for on-chain amounts to avoid
// floating point drift in fee and liquidity arithmetic.
//
// Lamports is the native unit (1 SOL = 1e9 lamports). TokenAmount is a raw
// SPL token quantity in the mint's smallest unit. BPS is basis points
// (1 bps = 0.01%). All arithmetic is integer based; conversions to float
// exist only for display and logging.
package money

import "fmt"

// Scale constants.
const (
	// LamportsPerSOL is the number of lamports in one SOL.
	LamportsPerSOL = 1_000_000_000

	// BPSScale is the divisor for basis point math (10000 bps = 100%).
	BPSScale = 10_000
)

// Lamports represents a native amount in lamports.
type Lamports uint64

// TokenAmount represents a raw SPL token amount in the mint's base unit.
type TokenAmount uint64

// BPS represents basis points. 50 = 0.5%.
type BPS uint64

// --- Lamports Constructors ---

// NewLamportsFromSOL creates Lamports from a SOL amount.
// Rounds toward zero; intended for config and test values, not chain math.
func NewLamportsFromSOL(sol float64) Lamports {
	return Lamports(sol * LamportsPerSOL)
}

// --- Lamports Arithmetic ---

// Add returns a + b.
func (a Lamports) Add(b Lamports) Lamports {
	return a + b
}

// Sub returns a - b, clamping at zero on underflow.
func (a Lamports) Sub(b Lamports) Lamports {
	if b > a {
		return 0
	}
	return a - b
}

// MulBPS returns floor(a * bps / 10000).
func (a Lamports) MulBPS(bps BPS) Lamports {
	return Lamports(uint64(a) * uint64(bps) / BPSScale)
}

// --- Lamports Conversion ---

// SOL returns the amount as a float SOL value. Display only.
func (a Lamports) SOL() float64 {
	return float64(a) / LamportsPerSOL
}

// Uint64 returns the raw lamport value.
func (a Lamports) Uint64() uint64 {
	return uint64(a)
}

// String returns a formatted string like "1.250000000 SOL".
func (a Lamports) String() string {
	return fmt.Sprintf("%d.%09d SOL", uint64(a)/LamportsPerSOL, uint64(a)%LamportsPerSOL)
}

// --- TokenAmount Arithmetic ---

// Add returns a + b.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	return a + b
}

// Sub returns a - b, clamping at zero on underflow.
func (a TokenAmount) Sub(b TokenAmount) TokenAmount {
	if b > a {
		return 0
	}
	return a - b
}

// MulBPS returns floor(a * bps / 10000).
func (a TokenAmount) MulBPS(bps BPS) TokenAmount {
	return TokenAmount(uint64(a) * uint64(bps) / BPSScale)
}

// IsZero returns true if the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a == 0
}

// Uint64 returns the raw base-unit value.
func (a TokenAmount) Uint64() uint64 {
	return uint64(a)
}

// Float64 returns the amount scaled by the given decimals. Display only.
func (a TokenAmount) Float64(decimals uint8) float64 {
	div := 1.0
	for i := uint8(0); i < decimals; i++ {
		div *= 10
	}
	return float64(a) / div
}

// --- BPS ---

// NewBPS creates BPS from a percentage (e.g., 0.5 for 0.5% = 50 bps).
func NewBPS(percent float64) BPS {
	return BPS(percent * 100)
}

// Float64 returns the percentage as float (e.g., 50 bps = 0.5).
func (b BPS) Float64() float64 {
	return float64(b) / 100.0
}

// Percent returns as percentage string (e.g., "0.85%").
func (b BPS) Percent() string {
	return fmt.Sprintf("%.2f%%", float64(b)/100.0)
}

// String returns basis points as string (e.g., "85 bps").
func (b BPS) String() string {
	return fmt.Sprintf("%d bps", uint64(b))
}

// Uint64 returns the raw basis point value.
func (b BPS) Uint64() uint64 {
	return uint64(b)
}

// --- Fee Splitting ---

// SplitFee divides a gross amount into a fee portion and the remainder.
// The fee is floor(gross * bps / 10000), so fee + net always equals gross.
// When the fee would be at or below dust, the whole amount passes through
// untouched.
func SplitFee(gross TokenAmount, bps BPS, dust TokenAmount) (fee, net TokenAmount) {
	fee = gross.MulBPS(bps)
	if fee <= dust {
		return 0, gross
	}
	return fee, gross - fee
}

// MinLamports returns the smaller of two lamport amounts.
func MinLamports(a, b Lamports) Lamports {
	if a < b {
		return a
	}
	return b
}

// MaxLamports returns the larger of two lamport amounts.
func MaxLamports(a, b Lamports) Lamports {
	if a > b {
		return a
	}
	return b
}
