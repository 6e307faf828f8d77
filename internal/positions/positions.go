// Package positions lists a wallet's open liquidity positions, backed by a
// layered cache so repeated lookups do not burn program-account scans. The
// pipeline invalidates the owner's entry after every submission that may
// have opened or resized a position.
package positions

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/ledger"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/cache"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
)

// Position is one open position account owned by a wallet.
type Position struct {
	Address solana.PublicKey `json:"address"`
	Pool    solana.PublicKey `json:"pool"`
	Owner   solana.PublicKey `json:"owner"`
	Model   pool.Model       `json:"model"`
	Lower   int32            `json:"lower"`
	Upper   int32            `json:"upper"`
}

// KeyedAccount is one scanned account, already unwrapped to raw bytes.
type KeyedAccount struct {
	Address solana.PublicKey
	Data    []byte
}

// Scanner runs filtered program-account scans.
type Scanner interface {
	ScanAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]KeyedAccount, error)
}

// NewLedgerScanner adapts a ledger reader to the Scanner interface.
func NewLedgerScanner(r *ledger.Reader) Scanner {
	return &ledgerScanner{r: r}
}

type ledgerScanner struct {
	r *ledger.Reader
}

func (s *ledgerScanner) ScanAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]KeyedAccount, error) {
	accs, err := s.r.ProgramAccounts(ctx, program, filters)
	if err != nil {
		return nil, err
	}
	out := make([]KeyedAccount, 0, len(accs))
	for _, acc := range accs {
		if acc == nil || acc.Account == nil {
			continue
		}
		out = append(out, KeyedAccount{
			Address: acc.Pubkey,
			Data:    acc.Account.Data.GetBinary(),
		})
	}
	return out, nil
}

// Service lists and caches positions per owner.
type Service struct {
	scanner Scanner
	cache   cacheStore
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// cacheStore is the subset of the layered cache the service uses.
type cacheStore interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NewService creates the position listing service. A zero ttl defaults to
// 30 seconds, short enough that a missed invalidation heals on its own.
func NewService(scanner Scanner, store cacheStore, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		scanner: scanner,
		cache:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func cacheKey(owner solana.PublicKey) string {
	return "positions:" + owner.String()
}

// List returns the owner's open bin-model positions, from cache when fresh.
// Tick-model positions are represented by ownership tokens rather than an
// owner field on the account, so they cannot be found with a memcmp scan
// and are not listed here.
func (s *Service) List(ctx context.Context, owner solana.PublicKey) ([]Position, error) {
	key := cacheKey(owner)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if positions, ok := cached.([]Position); ok {
			s.metrics.RecordCacheHit(ctx, "positions")
			return positions, nil
		}
	}
	s.metrics.RecordCacheMiss(ctx, "positions")

	positions, err := s.scanBinPositions(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, positions, s.ttl); err != nil {
		s.logger.LogWarn(ctx, "position cache write failed",
			"owner", owner.String(), "error", err.Error())
	}
	return positions, nil
}

// Invalidate drops the owner's cached listing. Errors are logged and
// swallowed: a stale entry expires on its own ttl.
func (s *Service) Invalidate(ctx context.Context, owner solana.PublicKey) {
	if err := s.cache.Delete(ctx, cacheKey(owner)); err != nil {
		s.logger.LogWarn(ctx, "position cache invalidation failed",
			"owner", owner.String(), "error", err.Error())
	}
}

// Bin position account layout offsets: discriminator, pool address, owner,
// then per-bin share and fee bookkeeping arrays, then the index range.
const (
	binPositionPoolOffset  = 8
	binPositionOwnerOffset = 40
	binPositionRangeOffset = 8 + 32 + 32 + 70*16 + 70*48 + 70*48
	binPositionMinLen      = binPositionRangeOffset + 8
)

func (s *Service) scanBinPositions(ctx context.Context, owner solana.PublicKey) ([]Position, error) {
	disc := pool.AccountDiscriminator("PositionV2")
	filters := []rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc)}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: binPositionOwnerOffset, Bytes: solana.Base58(owner.Bytes())}},
	}

	accs, err := s.scanner.ScanAccounts(ctx, pool.BinProgramID, filters)
	if err != nil {
		return nil, fmt.Errorf("scan positions for %s: %w", owner, err)
	}

	positions := make([]Position, 0, len(accs))
	for _, acc := range accs {
		p, err := decodeBinPosition(acc.Address, acc.Data)
		if err != nil {
			s.logger.LogWarn(ctx, "skipping undecodable position account",
				"address", acc.Address.String(), "error", err.Error())
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func decodeBinPosition(address solana.PublicKey, data []byte) (Position, error) {
	if len(data) < binPositionMinLen {
		return Position{}, fmt.Errorf("position account %s too short (%d bytes)", address, len(data))
	}

	var header struct {
		Pool  solana.PublicKey
		Owner solana.PublicKey
	}
	if err := bin.NewBorshDecoder(data[binPositionPoolOffset:]).Decode(&header); err != nil {
		return Position{}, fmt.Errorf("decode position header: %w", err)
	}

	return Position{
		Address: address,
		Pool:    header.Pool,
		Owner:   header.Owner,
		Model:   pool.ModelBin,
		Lower:   int32(binary.LittleEndian.Uint32(data[binPositionRangeOffset:])),
		Upper:   int32(binary.LittleEndian.Uint32(data[binPositionRangeOffset+4:])),
	}, nil
}

// Warmer pre-populates the position cache for a fixed set of owners at
// startup.
type Warmer struct {
	service *Service
	owners  []solana.PublicKey
}

// NewWarmer creates a warmup provider for the given owners.
func NewWarmer(service *Service, owners []solana.PublicKey) *Warmer {
	return &Warmer{service: service, owners: owners}
}

// Name implements cache.WarmupProvider.
func (w *Warmer) Name() string { return "positions" }

// Warmup implements cache.WarmupProvider.
func (w *Warmer) Warmup(ctx context.Context) error {
	for _, owner := range w.owners {
		if _, err := w.service.List(ctx, owner); err != nil {
			return fmt.Errorf("warm positions for %s: %w", owner, err)
		}
	}
	return nil
}

var _ cache.WarmupProvider = (*Warmer)(nil)
