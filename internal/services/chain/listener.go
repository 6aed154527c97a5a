// Package chain listens for vault contract events, deduplicates them by
// transaction hash and hands them to the event processor one at a time.
package chain

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

const (
	DefaultReconnectBase = time.Second
	DefaultReconnectCap  = 60 * time.Second
	DefaultMaxAttempts   = 10
	DefaultMaxProcessed  = 10000
	DefaultQueueSize     = 256

	blockLookupTimeout  = 10 * time.Second
	blockLookupAttempts = 3
)

// ErrQueueFull is returned by Submit when the event queue has no room.
var ErrQueueFull = errors.New("event queue is full")

// ErrStopped is returned by Start and Submit after Stop.
var ErrStopped = errors.New("listener stopped")

// Processor handles one normalized vault event.
type Processor interface {
	Process(ctx context.Context, event *models.ChainEvent) error
}

// Options tunes reconnect behaviour and queue sizes.
type Options struct {
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxAttempts   int
	MaxProcessed  int
	QueueSize     int
}

// OptionsFromConfig maps the chain config section onto listener options.
func OptionsFromConfig(cfg *common.ChainConfig) Options {
	return Options{
		ReconnectBase: cfg.GetReconnectBase(),
		ReconnectCap:  cfg.GetReconnectCap(),
		MaxAttempts:   cfg.MaxReconnectAttempts,
		MaxProcessed:  cfg.MaxProcessedTransactions,
		QueueSize:     cfg.QueueSize,
	}
}

func (o *Options) applyDefaults() {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = DefaultReconnectBase
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = DefaultReconnectCap
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxProcessed <= 0 {
		o.MaxProcessed = DefaultMaxProcessed
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

// Listener owns the vault subscription and the single event consumer.
// Chain logs and webhook submissions share one consumer goroutine, so the
// processor never sees two events concurrently.
type Listener struct {
	source    interfaces.VaultEventSource // nil when only webhooks feed events
	processor Processor
	logger    *common.Logger
	opts      Options

	processed *ProcessedSet
	logs      chan interfaces.VaultLog
	submits   chan *models.ChainEvent

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu        sync.Mutex
	running   bool
	stopped   bool
	active    bool
	fatal     bool
	attempts  int
	lastError string
	since     time.Time
	handled   int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewListener creates a listener. source may be nil, in which case only
// events passed to Submit are processed.
func NewListener(source interfaces.VaultEventSource, processor Processor, opts Options, logger *common.Logger) *Listener {
	opts.applyDefaults()
	return &Listener{
		source:    source,
		processor: processor,
		logger:    logger,
		opts:      opts,
		processed: NewProcessedSet(opts.MaxProcessed),
		logs:      make(chan interfaces.VaultLog, opts.QueueSize),
		submits:   make(chan *models.ChainEvent, opts.QueueSize),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start launches the consumer and, when a source is configured, the
// subscription loop. A second call while running only logs a warning.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	if l.running {
		l.logger.Warn().Msg("Vault listener already running")
		return nil
	}
	l.running = true

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.safeGo("consumer", func() { l.consume(runCtx) })
	if l.source != nil {
		l.safeGo("subscription", func() { l.subscribeLoop(runCtx) })
	} else {
		l.logger.Info().Msg("No vault RPC configured; accepting webhook events only")
	}
	return nil
}

// Stop cancels the subscription and waits for the consumer to exit. Idempotent.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		l.wg.Wait()

		l.mu.Lock()
		l.active = false
		l.running = false
		l.mu.Unlock()
		l.logger.Info().Msg("Vault listener stopped")
	})
}

// Submit enqueues an externally reported event. It never blocks.
func (l *Listener) Submit(ctx context.Context, event *models.ChainEvent) error {
	if event == nil || event.TransactionID == "" {
		return fmt.Errorf("event has no transaction id")
	}
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case l.submits <- event:
		return nil
	default:
		l.logger.Warn().Str("tx", event.TransactionID).Msg("Event queue full, rejecting submission")
		return ErrQueueFull
	}
}

// Health returns a snapshot of the listener state.
func (l *Listener) Health() models.ListenerHealth {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.ListenerHealth{
		Enabled:   l.source != nil,
		Active:    l.active,
		Fatal:     l.fatal,
		Attempts:  l.attempts,
		LastError: l.lastError,
		QueueLen:  len(l.logs) + len(l.submits),
		Processed: l.handled,
		Since:     l.since,
	}
}

// IsProcessed reports whether the kind event of txHash is still in the processed set.
func (l *Listener) IsProcessed(kind models.ChainEventKind, txHash string) bool {
	return l.processed.Contains(eventKey(kind, txHash))
}

// eventKey is the dedup key. A withdrawal is scheduled and executed under the
// same transaction hash, so the kind is part of the key.
func eventKey(kind models.ChainEventKind, txHash string) string {
	return string(kind) + ":" + txHash
}

func (l *Listener) safeGo(name string, fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in vault listener goroutine")
			}
		}()
		fn()
	}()
}

func (l *Listener) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.ReconnectBase
	b.MaxInterval = l.opts.ReconnectCap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// subscribeLoop keeps a subscription open, reconnecting with exponential
// backoff until MaxAttempts consecutive failures mark the listener fatal.
func (l *Listener) subscribeLoop(ctx context.Context) {
	bo := l.newBackOff()

	for {
		sub, err := l.source.SubscribeVaultLogs(ctx, l.logs)
		if err == nil {
			l.markActive()
			bo.Reset()

			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err = <-sub.Err():
				sub.Unsubscribe()
			}
			if err == nil {
				err = errors.New("subscription closed")
			}
		}
		if ctx.Err() != nil {
			return
		}

		attempt := l.markFailed(err)
		if attempt >= l.opts.MaxAttempts {
			l.mu.Lock()
			l.fatal = true
			l.mu.Unlock()
			l.logger.Error().
				Err(err).
				Int("attempts", attempt).
				Msg("Vault subscription failed permanently, giving up on reconnect")
			return
		}

		delay := bo.NextBackOff()
		l.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Vault subscription lost, reconnecting")
		if err := l.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (l *Listener) markActive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = true
	l.attempts = 0
	l.lastError = ""
	l.since = l.now()
	l.logger.Info().Msg("Vault subscription established")
}

func (l *Listener) markFailed(err error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	l.attempts++
	l.lastError = err.Error()
	return l.attempts
}

func (l *Listener) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-l.logs:
			l.handleLog(ctx, raw)
		case ev := <-l.submits:
			l.handleEvent(ctx, ev)
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, raw interfaces.VaultLog) {
	if l.processed.Contains(eventKey(raw.Kind, raw.TxHash)) {
		l.logger.Debug().Str("tx", raw.TxHash).Msg("Duplicate vault log discarded")
		return
	}

	blockTime, err := l.blockTime(ctx, raw)
	if err != nil {
		// only a cancelled context gets here; the listener is stopping
		return
	}

	event := &models.ChainEvent{
		TransactionID:  raw.TxHash,
		Kind:           raw.Kind,
		Account:        raw.Account,
		AssetAmount:    raw.Assets,
		ShareAmount:    raw.Shares,
		BlockNumber:    raw.BlockNumber,
		BlockTimestamp: blockTime,
		Source:         models.SourceChain,
	}
	if raw.ScheduledUnix > 0 {
		event.ScheduledTime = time.Unix(raw.ScheduledUnix, 0).UTC()
	}
	l.handleEvent(ctx, event)
}

// blockTime resolves the block timestamp, retrying with backoff. When the node
// cannot answer, the receive time stands in so the event is still processed.
func (l *Listener) blockTime(ctx context.Context, raw interfaces.VaultLog) (time.Time, error) {
	bo := l.newBackOff()
	var err error
	for attempt := 1; attempt <= blockLookupAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, blockLookupTimeout)
		var ts int64
		ts, err = l.source.BlockTimestamp(lookupCtx, raw.BlockNumber)
		cancel()
		if err == nil {
			return time.Unix(ts, 0).UTC(), nil
		}
		if attempt == blockLookupAttempts {
			break
		}
		l.logger.Warn().
			Err(err).
			Str("tx", raw.TxHash).
			Uint64("block", raw.BlockNumber).
			Int("attempt", attempt).
			Msg("Block timestamp lookup failed, retrying")
		if serr := l.sleep(ctx, bo.NextBackOff()); serr != nil {
			return time.Time{}, serr
		}
	}

	l.logger.Warn().
		Err(err).
		Str("tx", raw.TxHash).
		Uint64("block", raw.BlockNumber).
		Msg("Block timestamp unavailable, using receive time")
	return l.now().UTC(), nil
}

func (l *Listener) handleEvent(ctx context.Context, event *models.ChainEvent) {
	key := eventKey(event.Kind, event.TransactionID)
	if l.processed.Contains(key) {
		l.logger.Debug().Str("tx", event.TransactionID).Str("source", event.Source).Msg("Duplicate vault event discarded")
		return
	}

	if err := l.processor.Process(ctx, event); err != nil {
		l.logger.Error().
			Err(err).
			Str("tx", event.TransactionID).
			Str("kind", string(event.Kind)).
			Msg("Failed to process vault event")
		return
	}

	l.processed.Add(key)
	l.mu.Lock()
	l.handled++
	l.mu.Unlock()
}
