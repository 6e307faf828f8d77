package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/ledger"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/quote"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/submit"
)

// LedgerGateway is the ledger access the pipeline needs: a decoded pool
// snapshot at pipeline start, account reads for the composer's existence
// checks, and a fresh expiry handle plus block height right before
// submission.
type LedgerGateway interface {
	pool.AccountReader
	FetchSnapshot(ctx context.Context, model pool.Model, address solana.PublicKey) (*pool.Snapshot, error)
	LatestExpiryHandle(ctx context.Context) (envelope.ExpiryHandle, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// NewLedgerGateway adapts a ledger reader to the pipeline.
func NewLedgerGateway(r *ledger.Reader) LedgerGateway {
	return &readerGateway{r: r}
}

type readerGateway struct {
	r *ledger.Reader
}

func (g *readerGateway) FetchSnapshot(ctx context.Context, model pool.Model, address solana.PublicKey) (*pool.Snapshot, error) {
	return pool.FetchSnapshot(ctx, g.r, model, address)
}

func (g *readerGateway) LatestExpiryHandle(ctx context.Context) (envelope.ExpiryHandle, error) {
	return g.r.LatestExpiryHandle(ctx)
}

func (g *readerGateway) BlockHeight(ctx context.Context) (uint64, error) {
	return g.r.BlockHeight(ctx)
}

func (g *readerGateway) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	return g.r.AccountData(ctx, addr)
}

func (g *readerGateway) MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error) {
	return g.r.MultipleAccountData(ctx, keys...)
}

// QuoteService fetches a swap leg, or (nil, nil) when no swap is needed.
type QuoteService interface {
	SwapQuoteAndTransaction(ctx context.Context, inputMint, outputMint solana.PublicKey, amount money.TokenAmount, slippageBps money.BPS, funder solana.PublicKey, step envelope.Step) (*quote.SwapLeg, error)
}

// Submitter broadcasts an envelope set and blocks until a terminal result.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*submit.Result, error)
}

// Invalidator drops cached position listings for an owner after a
// submission that may have changed them.
type Invalidator interface {
	Invalidate(ctx context.Context, owner solana.PublicKey)
}

// Notifier publishes the terminal result of an intent. Failures are logged,
// never propagated: notification is best effort.
type Notifier interface {
	Notify(ctx context.Context, receipt *Receipt) error
}

// PipelineConfig holds per-stage timeouts. Each stage gets its own bound;
// there is deliberately no single end-to-end deadline, because submission
// must be allowed to run to a terminal state once it starts.
type PipelineConfig struct {
	// LedgerTimeout bounds snapshot and expiry handle reads.
	LedgerTimeout time.Duration
	// QuoteTimeout bounds each quote round trip.
	QuoteTimeout time.Duration
}

func (c *PipelineConfig) setDefaults() {
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 10 * time.Second
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 15 * time.Second
	}
}

// Receipt is the pipeline's terminal output for one intent.
type Receipt struct {
	IntentID string
	Pool     solana.PublicKey
	Model    pool.Model
	Range    pool.Range
	Fee      Fee
	Result   *submit.Result
}

// Pipeline executes provisioning intents end to end.
type Pipeline struct {
	ledger      LedgerGateway
	quotes      QuoteService
	submitter   Submitter
	assembler   *Assembler
	invalidator Invalidator
	notifier    Notifier
	feeCfg      FeeConfig
	cfg         PipelineConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewPipeline wires the pipeline. Invalidator and notifier may be nil when
// the deployment runs without a cache or a message bus.
func NewPipeline(ledger LedgerGateway, quotes QuoteService, submitter Submitter, assembler *Assembler, feeCfg FeeConfig, cfg PipelineConfig, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{
		ledger:    ledger,
		quotes:    quotes,
		submitter: submitter,
		assembler: assembler,
		feeCfg:    feeCfg,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithInvalidator attaches a position cache invalidator.
func (p *Pipeline) WithInvalidator(inv Invalidator) *Pipeline {
	p.invalidator = inv
	return p
}

// WithNotifier attaches a result notifier.
func (p *Pipeline) WithNotifier(n Notifier) *Pipeline {
	p.notifier = n
	return p
}

// Execute runs one intent to a terminal state. Context cancellation aborts
// the pipeline up to the point submission begins; after that the submission
// runs to its own terminal state so the caller never loses track of
// broadcast transactions.
func (p *Pipeline) Execute(ctx context.Context, intent *Intent) (*Receipt, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	p.metrics.RecordIntentStarted(ctx, string(intent.Model))
	p.logger.Info("intent started",
		"intent_id", intent.ID.String(),
		"pool", intent.PoolAddress.String(),
		"model", string(intent.Model),
		"strategy", string(intent.Strategy),
		"mode", string(intent.Mode),
		"funding_amount", intent.FundingAmount.Uint64(),
	)

	receipt, err := p.run(ctx, intent)

	outcome := "error"
	if err == nil {
		outcome = string(receipt.Result.Outcome)
	}
	p.metrics.RecordIntentCompleted(ctx, string(intent.Model), outcome, time.Since(start))
	if err != nil {
		p.metrics.RecordError(ctx, "intent_failed")
		p.logger.LogError(ctx, "intent failed", err, "intent_id", intent.ID.String())
		return nil, err
	}

	p.logger.Info("intent completed",
		"intent_id", intent.ID.String(),
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return receipt, nil
}

func (p *Pipeline) run(ctx context.Context, intent *Intent) (*Receipt, error) {
	snap, err := p.fetchSnapshot(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("pool snapshot: %w", err)
	}

	fee := CalculateFee(intent.FundingAmount, p.feeCfg)
	if !fee.Fee.IsZero() {
		p.logger.Debug("protocol fee applied",
			"gross", fee.Gross.Uint64(),
			"fee", fee.Fee.Uint64(),
			"net", fee.Net.Uint64(),
		)
	}

	legA, legB, deposit, err := p.fetchSwapLegs(ctx, intent, snap, fee.Net)
	if err != nil {
		return nil, fmt.Errorf("swap legs: %w", err)
	}

	composer, err := pool.ComposerFor(intent.Model)
	if err != nil {
		return nil, err
	}
	rng, err := composer.ResolveRange(snap, intent.Strategy)
	if err != nil {
		return nil, fmt.Errorf("resolve range: %w", err)
	}

	plan, err := composer.Compose(ctx, p.ledger, snap, rng, intent.Funder, deposit)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	if legA != nil {
		plan.External = append(plan.External, legA.Envelope)
	}
	if legB != nil {
		plan.External = append(plan.External, legB.Envelope)
	}
	if err := fee.AppendToPlan(plan, intent.Funder, intent.FundingMint, p.feeCfg); err != nil {
		return nil, fmt.Errorf("fee transfer: %w", err)
	}

	// Handle freshness: fetched immediately before assembly so the expiry
	// window is as wide as possible at broadcast time.
	handle, err := p.fetchHandle(ctx)
	if err != nil {
		return nil, fmt.Errorf("expiry handle: %w", err)
	}
	envs, err := p.assembler.Assemble(plan, intent.Funder, handle)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	if err := p.refreshIfStale(ctx, envs, handle); err != nil {
		return nil, err
	}

	// Last cancellation point. Once envelopes go out the caller must get a
	// terminal result even if it gave up waiting.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	submitCtx := context.WithoutCancel(ctx)

	result, err := p.submitter.Submit(submitCtx, submit.Request{
		Envelopes: envs,
		Mode:      intent.Mode,
		FeePayer:  intent.Funder,
		TipSpeed:  intent.TipSpeed,
		SkipTip:   intent.SkipTip,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	receipt := &Receipt{
		IntentID: intent.ID.String(),
		Pool:     intent.PoolAddress,
		Model:    intent.Model,
		Range:    rng,
		Fee:      fee,
		Result:   result,
	}

	if p.invalidator != nil && len(result.SucceededSignatures()) > 0 {
		p.invalidator.Invalidate(submitCtx, intent.Funder)
	}
	if p.notifier != nil {
		if err := p.notifier.Notify(submitCtx, receipt); err != nil {
			p.logger.LogWarn(submitCtx, "result notification failed",
				"intent_id", intent.ID.String(), "error", err.Error())
		}
	}
	return receipt, nil
}

func (p *Pipeline) fetchSnapshot(ctx context.Context, intent *Intent) (*pool.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LedgerTimeout)
	defer cancel()
	return p.ledger.FetchSnapshot(ctx, intent.Model, intent.PoolAddress)
}

func (p *Pipeline) fetchHandle(ctx context.Context) (envelope.ExpiryHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LedgerTimeout)
	defer cancel()
	return p.ledger.LatestExpiryHandle(ctx)
}

// refreshIfStale compares the assembled handle against the current block
// height and swaps in a fresh handle when the original already expired.
// Broadcasting an expired handle can only burn the submitter's retry
// budget, so the swap happens before anything leaves the process. The
// height read itself is best effort.
func (p *Pipeline) refreshIfStale(ctx context.Context, envs []*envelope.Envelope, handle envelope.ExpiryHandle) error {
	height, err := p.ledger.BlockHeight(ctx)
	if err != nil {
		p.logger.LogWarn(ctx, "block height check failed", "error", err.Error())
		return nil
	}
	if height < handle.LastValidBlockHeight {
		return nil
	}

	fresh, err := p.fetchHandle(ctx)
	if err != nil {
		return fmt.Errorf("refresh expiry handle: %w", err)
	}
	p.logger.Info("expiry handle refreshed before submission",
		"stale_height", handle.LastValidBlockHeight,
		"current_height", height,
		"fresh_height", fresh.LastValidBlockHeight,
	)
	RefreshLocal(envs, fresh)
	return nil
}

// fetchSwapLegs converts the net funding amount into the pool's two assets.
// The net is split evenly; each half whose target mint differs from the
// funding mint goes through a swap leg, the two legs fetched concurrently.
// A half already denominated in the pool asset is deposited as-is.
func (p *Pipeline) fetchSwapLegs(ctx context.Context, intent *Intent, snap *pool.Snapshot, net money.TokenAmount) (*quote.SwapLeg, *quote.SwapLeg, pool.DepositAmounts, error) {
	halfA := money.TokenAmount(net.Uint64() / 2)
	halfB := money.TokenAmount(net.Uint64() - halfA.Uint64())

	ctx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	var legA, legB *quote.SwapLeg
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		leg, err := p.quotes.SwapQuoteAndTransaction(gctx, intent.FundingMint, snap.MintA, halfA, intent.SlippageBps, intent.Funder, envelope.StepSwapA)
		if err != nil {
			return fmt.Errorf("leg A (%s): %w", snap.MintA, err)
		}
		legA = leg
		return nil
	})
	g.Go(func() error {
		leg, err := p.quotes.SwapQuoteAndTransaction(gctx, intent.FundingMint, snap.MintB, halfB, intent.SlippageBps, intent.Funder, envelope.StepSwapB)
		if err != nil {
			return fmt.Errorf("leg B (%s): %w", snap.MintB, err)
		}
		legB = leg
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, pool.DepositAmounts{}, err
	}

	deposit := pool.DepositAmounts{
		AmountA:        halfA,
		AmountB:        halfB,
		MaxSlippageBps: intent.SlippageBps,
	}
	if legA != nil {
		deposit.AmountA = legA.OutAmount
	}
	if legB != nil {
		deposit.AmountB = legB.OutAmount
	}
	return legA, legB, deposit, nil
}
