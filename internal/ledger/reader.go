// Package ledger wraps Solana JSON-RPC access behind a weighted endpoint
// pool, a circuit breaker, and retry with backoff. All chain reads and the
// raw transaction send go through here so failover and classification live
// in one place.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// Reader performs chain reads and sends through the endpoint pool.
type Reader struct {
	pool       *Pool
	breaker    *resilience.CircuitBreaker
	retryCfg   resilience.RetryConfig
	commitment rpc.CommitmentType
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// ReaderConfig holds Reader dependencies.
type ReaderConfig struct {
	Pool       *Pool
	Commitment rpc.CommitmentType
	RetryCfg   resilience.RetryConfig
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewReader creates a Reader over the pool.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.RetryCfg.MaxAttempts == 0 {
		cfg.RetryCfg = resilience.DefaultRetryConfig()
	}
	return &Reader{
		pool:     cfg.Pool,
		retryCfg: cfg.RetryCfg,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "solana-rpc",
			FailureThreshold: 5,
			ResetTimeout:     15 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				cfg.Logger.Warn("circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		}),
		commitment: cfg.Commitment,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Commitment returns the commitment level used for reads.
func (r *Reader) Commitment() rpc.CommitmentType {
	return r.commitment
}

// call wraps a single RPC invocation with breaker, retry and metrics.
func call[T any](ctx context.Context, r *Reader, method string, fn func(context.Context, *rpc.Client) (T, error)) (T, error) {
	out, err := resilience.RetryWithResult(ctx, r.retryCfg, func(ctx context.Context) (T, error) {
		return resilience.ExecuteWithResult(r.breaker, ctx, func(ctx context.Context) (T, error) {
			var zero T
			client, err := r.pool.Client()
			if err != nil {
				return zero, err
			}
			return fn(ctx, client)
		})
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordLedgerRead(ctx, method, status)
	}
	return out, err
}

// LatestExpiryHandle fetches a fresh blockhash and its expiry height.
func (r *Reader) LatestExpiryHandle(ctx context.Context) (envelope.ExpiryHandle, error) {
	out, err := call(ctx, r, "getLatestBlockhash", func(ctx context.Context, client *rpc.Client) (*rpc.GetLatestBlockhashResult, error) {
		return client.GetLatestBlockhash(ctx, r.commitment)
	})
	if err != nil {
		return envelope.ExpiryHandle{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return envelope.ExpiryHandle{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// BlockHeight returns the current block height at the read commitment.
func (r *Reader) BlockHeight(ctx context.Context) (uint64, error) {
	return call(ctx, r, "getBlockHeight", func(ctx context.Context, client *rpc.Client) (uint64, error) {
		return client.GetBlockHeight(ctx, r.commitment)
	})
}

// SignatureStatuses returns statuses for the given signatures, searching
// transaction history for signatures that fell out of the recent cache.
func (r *Reader) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	out, err := call(ctx, r, "getSignatureStatuses", func(ctx context.Context, client *rpc.Client) (*rpc.GetSignatureStatusesResult, error) {
		return client.GetSignatureStatuses(ctx, true, sigs...)
	})
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	return out.Value, nil
}

// AccountData fetches raw account data for the given address.
func (r *Reader) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	out, err := call(ctx, r, "getAccountInfo", func(ctx context.Context, client *rpc.Client) (*rpc.GetAccountInfoResult, error) {
		return client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{Commitment: r.commitment})
	})
	if err != nil {
		return nil, fmt.Errorf("get account info %s: %w", addr, err)
	}
	if out.Value == nil {
		return nil, fmt.Errorf("account %s not found", addr)
	}
	return out.Value.Data.GetBinary(), nil
}

// MultipleAccountData fetches raw data for several accounts in one call.
// Missing accounts come back as nil slices in the same order as keys.
func (r *Reader) MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error) {
	out, err := call(ctx, r, "getMultipleAccounts", func(ctx context.Context, client *rpc.Client) (*rpc.GetMultipleAccountsResult, error) {
		return client.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{Commitment: r.commitment})
	})
	if err != nil {
		return nil, fmt.Errorf("get multiple accounts: %w", err)
	}
	data := make([][]byte, len(out.Value))
	for i, acc := range out.Value {
		if acc == nil {
			continue
		}
		data[i] = acc.Data.GetBinary()
	}
	return data, nil
}

// ProgramAccounts runs a filtered getProgramAccounts scan.
func (r *Reader) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	out, err := call(ctx, r, "getProgramAccounts", func(ctx context.Context, client *rpc.Client) (rpc.GetProgramAccountsResult, error) {
		return client.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
			Commitment: r.commitment,
			Filters:    filters,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts %s: %w", program, err)
	}
	return out, nil
}

// SendRawTransaction submits a fully signed transaction. Preflight is
// skipped because the caller already simulated or accepts the risk; the
// node would otherwise reject bundles that depend on sibling transactions.
func (r *Reader) SendRawTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return call(ctx, r, "sendTransaction", func(ctx context.Context, client *rpc.Client) (solana.Signature, error) {
		return client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: r.commitment,
		})
	})
}
