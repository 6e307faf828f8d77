package positions

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/cache"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
)

type fakeScanner struct {
	scans    int
	accounts []KeyedAccount
	err      error
}

func (f *fakeScanner) ScanAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]KeyedAccount, error) {
	f.scans++
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts, nil
}

// encodePosition lays out a minimal position account: discriminator, pool,
// owner, zeroed bookkeeping arrays, then the index range.
func encodePosition(poolAddr, owner solana.PublicKey, lower, upper int32) []byte {
	data := make([]byte, binPositionMinLen)
	copy(data[:8], pool.AccountDiscriminator("PositionV2"))
	copy(data[binPositionPoolOffset:], poolAddr.Bytes())
	copy(data[binPositionOwnerOffset:], owner.Bytes())
	binary.LittleEndian.PutUint32(data[binPositionRangeOffset:], uint32(lower))
	binary.LittleEndian.PutUint32(data[binPositionRangeOffset+4:], uint32(upper))
	return data
}

func testService(t *testing.T, scanner Scanner) *Service {
	t.Helper()
	logger := observability.NewLogger("error", "text")
	metrics, err := observability.NewMetrics("test", false)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	store := cache.NewMemoryCache(16)
	t.Cleanup(func() { store.Close() })
	return NewService(scanner, store, time.Minute, logger, metrics)
}

func TestListDecodesPositions(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	poolAddr := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()

	scanner := &fakeScanner{accounts: []KeyedAccount{
		{Address: addr, Data: encodePosition(poolAddr, owner, -120, -80)},
	}}
	svc := testService(t, scanner)

	got, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("positions = %d, want 1", len(got))
	}
	p := got[0]
	if !p.Address.Equals(addr) || !p.Pool.Equals(poolAddr) || !p.Owner.Equals(owner) {
		t.Errorf("decoded keys wrong: %+v", p)
	}
	if p.Lower != -120 || p.Upper != -80 {
		t.Errorf("range = [%d, %d), want [-120, -80)", p.Lower, p.Upper)
	}
	if p.Model != pool.ModelBin {
		t.Errorf("model = %s", p.Model)
	}
}

func TestListCachesPerOwner(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	scanner := &fakeScanner{accounts: []KeyedAccount{
		{Address: solana.NewWallet().PublicKey(), Data: encodePosition(solana.NewWallet().PublicKey(), owner, 0, 10)},
	}}
	svc := testService(t, scanner)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.List(ctx, owner); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if scanner.scans != 1 {
		t.Errorf("scans = %d, want 1 (subsequent lists served from cache)", scanner.scans)
	}
}

func TestInvalidateForcesRescan(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	scanner := &fakeScanner{}
	svc := testService(t, scanner)

	ctx := context.Background()
	if _, err := svc.List(ctx, owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	svc.Invalidate(ctx, owner)
	if _, err := svc.List(ctx, owner); err != nil {
		t.Fatalf("list after invalidate: %v", err)
	}
	if scanner.scans != 2 {
		t.Errorf("scans = %d, want 2", scanner.scans)
	}
}

func TestListSkipsUndecodableAccounts(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	scanner := &fakeScanner{accounts: []KeyedAccount{
		{Address: solana.NewWallet().PublicKey(), Data: []byte{1, 2, 3}},
		{Address: solana.NewWallet().PublicKey(), Data: encodePosition(solana.NewWallet().PublicKey(), owner, 5, 25)},
	}}
	svc := testService(t, scanner)

	got, err := svc.List(context.Background(), owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("positions = %d, want 1 (short account skipped)", len(got))
	}
}

func TestListSurfacesScanError(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("rpc down")}
	svc := testService(t, scanner)
	if _, err := svc.List(context.Background(), solana.NewWallet().PublicKey()); err == nil {
		t.Fatal("expected scan error to surface")
	}
}

func TestWarmerPopulatesCache(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	scanner := &fakeScanner{}
	svc := testService(t, scanner)

	w := NewWarmer(svc, []solana.PublicKey{owner})
	if w.Name() != "positions" {
		t.Errorf("name = %q", w.Name())
	}
	if err := w.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if _, err := svc.List(context.Background(), owner); err != nil {
		t.Fatalf("list: %v", err)
	}
	if scanner.scans != 1 {
		t.Errorf("scans = %d, want 1", scanner.scans)
	}
}
