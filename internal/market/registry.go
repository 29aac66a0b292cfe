package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/paperstream/internal/connection"
)

// ErrNoTradingSymbols is returned by Start when none of the configured
// symbols are trading.
var ErrNoTradingSymbols = errors.New("no configured symbol is trading")

// SymbolSource reports which symbols are currently trading.
type SymbolSource interface {
	ValidateSymbols(ctx context.Context, symbols []string) (valid, invalid []string, err error)
}

// Subscriber opens and closes all streams of a symbol.
type Subscriber interface {
	SubscribeSymbolComplete(ctx context.Context, symbol string, channels []string, handler connection.Handler) error
	UnsubscribeAll(symbol string) int
}

// AllTrading is a SymbolSource that reports every symbol as trading. It lets
// the registry retry failed subscribes when symbols are not validated.
type AllTrading struct{}

// ValidateSymbols returns symbols unchanged as valid.
func (AllTrading) ValidateSymbols(_ context.Context, symbols []string) (valid, invalid []string, err error) {
	return append([]string(nil), symbols...), nil, nil
}

// Config holds Symbol Registry configuration.
type Config struct {
	Channels        []string
	RefreshInterval time.Duration // <= 0 disables periodic status checks
	RetryInterval   time.Duration // next pass after a failed subscribe; <= 0 disables
	Concurrency     int           // max concurrent subscribe calls (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 5 * time.Minute,
		RetryInterval:   30 * time.Second,
		Concurrency:     4,
	}
}

// SymbolState is a point-in-time view of one tracked symbol.
type SymbolState struct {
	Symbol     string    `json:"symbol"`
	Trading    bool      `json:"trading"`
	Subscribed bool      `json:"subscribed"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Registry keeps stream subscriptions in line with symbol trading status.
type Registry struct {
	cfg    Config
	source SymbolSource
	subs   Subscriber
	logger *slog.Logger

	mu         sync.RWMutex
	symbols    map[string]*SymbolState
	lastSyncAt time.Time
	subErr     error // failures of the last subscribe pass, nil if none

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry for the given symbols.
func NewRegistry(cfg Config, symbols []string, source SymbolSource, subs Subscriber, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}

	tracked := make(map[string]*SymbolState, len(symbols))
	for _, s := range symbols {
		tracked[s] = &SymbolState{Symbol: s}
	}

	return &Registry{
		cfg:     cfg,
		source:  source,
		subs:    subs,
		logger:  logger,
		symbols: tracked,
	}
}

// Start runs the initial sync (blocking) and then reconciles in the background.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	subscribed, _, err := r.reconcile(r.ctx)
	if err != nil {
		r.cancel()
		return fmt.Errorf("initial symbol sync: %w", err)
	}
	if len(r.Active()) == 0 {
		r.cancel()
		if subErr := r.lastSubscribeErr(); subErr != nil {
			return fmt.Errorf("subscribe symbols: %w", subErr)
		}
		return ErrNoTradingSymbols
	}

	if r.cfg.RefreshInterval > 0 || r.cfg.RetryInterval > 0 {
		r.wg.Add(1)
		go r.reconciliationLoop()
	}

	r.logger.Info("symbol registry started",
		"tracked", len(r.symbols),
		"subscribed", subscribed,
		"refresh_interval", r.cfg.RefreshInterval,
	)
	return nil
}

// Stop gracefully shuts down. Existing subscriptions are left to the
// stream manager.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("symbol registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the subscribed symbols, sorted.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for s, st := range r.symbols {
		if st.Subscribed {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Symbols returns a snapshot of every tracked symbol, sorted by name.
func (r *Registry) Symbols() []SymbolState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SymbolState, 0, len(r.symbols))
	for _, st := range r.symbols {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastSync returns when the last successful reconcile finished.
func (r *Registry) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSyncAt
}

func (r *Registry) reconciliationLoop() {
	defer r.wg.Done()

	for {
		wait := r.nextPass()
		if wait <= 0 {
			<-r.ctx.Done()
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, _, err := r.reconcile(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("symbol reconciliation failed", "error", err)
			}
		}
	}
}

// nextPass returns the wait before the next reconcile: RetryInterval while a
// trading symbol is unsubscribed, RefreshInterval otherwise.
func (r *Registry) nextPass() time.Duration {
	r.mu.RLock()
	pending := false
	for _, st := range r.symbols {
		if st.Trading && !st.Subscribed {
			pending = true
			break
		}
	}
	r.mu.RUnlock()

	if pending && r.cfg.RetryInterval > 0 {
		if r.cfg.RefreshInterval <= 0 || r.cfg.RetryInterval < r.cfg.RefreshInterval {
			return r.cfg.RetryInterval
		}
	}
	return r.cfg.RefreshInterval
}

// reconcile fetches trading status and subscribes or unsubscribes symbols
// whose status no longer matches their subscription.
func (r *Registry) reconcile(ctx context.Context) (subscribed, unsubscribed int, err error) {
	start := time.Now()

	valid, invalid, err := r.source.ValidateSymbols(ctx, r.tracked())
	if err != nil {
		return 0, 0, err
	}

	now := time.Now()
	var toSubscribe, toUnsubscribe []string

	r.mu.Lock()
	for _, s := range valid {
		st, ok := r.symbols[s]
		if !ok {
			continue
		}
		if !st.Trading {
			st.Trading = true
			st.ChangedAt = now
		}
		if !st.Subscribed {
			toSubscribe = append(toSubscribe, s)
		}
	}
	for _, s := range invalid {
		st, ok := r.symbols[s]
		if !ok {
			continue
		}
		if st.Trading || st.ChangedAt.IsZero() {
			st.Trading = false
			st.ChangedAt = now
			r.logger.Warn("symbol not trading", "symbol", s)
		}
		if st.Subscribed {
			toUnsubscribe = append(toUnsubscribe, s)
		}
	}
	r.mu.Unlock()

	for _, s := range toUnsubscribe {
		closed := r.subs.UnsubscribeAll(s)
		r.setSubscribed(s, false)
		r.logger.Info("unsubscribed halted symbol", "symbol", s, "streams", closed)
	}
	unsubscribed = len(toUnsubscribe)

	subscribed = r.subscribeAll(ctx, toSubscribe)

	r.mu.Lock()
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	if subscribed > 0 || unsubscribed > 0 {
		r.logger.Info("symbol reconciliation found changes",
			"subscribed", subscribed,
			"unsubscribed", unsubscribed,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("symbol reconciliation complete",
			"tracked", len(valid)+len(invalid),
			"duration", time.Since(start),
		)
	}
	return subscribed, unsubscribed, nil
}

// subscribeAll subscribes symbols with bounded concurrency. A failed symbol
// has every stream the batch opened torn down and is retried on the next
// reconcile.
func (r *Registry) subscribeAll(ctx context.Context, symbols []string) int {
	var (
		mu   sync.Mutex
		ok   int
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, s := range symbols {
		g.Go(func() error {
			if err := r.subs.SubscribeSymbolComplete(gctx, s, r.cfg.Channels, nil); err != nil {
				closed := r.subs.UnsubscribeAll(s)
				r.logger.Error("failed to subscribe symbol",
					"symbol", s,
					"rolled_back", closed,
					"error", err,
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s, err))
				mu.Unlock()
				return nil
			}
			r.setSubscribed(s, true)
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	r.mu.Lock()
	r.subErr = errors.Join(errs...)
	r.mu.Unlock()
	return ok
}

func (r *Registry) lastSubscribeErr() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subErr
}

func (r *Registry) setSubscribed(symbol string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.symbols[symbol]; ok {
		st.Subscribed = v
	}
}

func (r *Registry) tracked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
