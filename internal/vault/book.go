/*

This file contains the vault book: the in-process implementation of the vault
Manager. It owns the strategy registry, the idle/debt totals and the per-vault
critical section, and it makes every UpdateDebt call atomic by snapshotting the
ledger and the strategy before the transfer and rolling both back on failure.

*/

package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/strandfi/dvm/internal/ledger"
	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/rebalancer"
	"github.com/strandfi/dvm/internal/strategy"
	"github.com/strandfi/dvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidBook        = errors.New("vault book configuration is invalid")
	ErrStrategyNotFound   = errors.New("strategy is not registered")
	ErrStrategyRegistered = errors.New("strategy is already registered")
	ErrStrategyHasDebt    = errors.New("strategy still has outstanding debt")
	ErrInvalidAmount      = errors.New("amount is invalid")
)

type entry struct {
	strat  strategy.YieldStrategy
	params types.StrategyParams
}

// Book is the single-vault debt ledger. All exported methods are safe for
// concurrent use; UpdateDebt serializes so no intermediate accounting state is
// ever observable.
type Book struct {
	mu      sync.Mutex
	address string
	ledger  *ledger.Ledger
	log     zerolog.Logger

	entries map[types.StrategyID]*entry
	order   []types.StrategyID

	totals           types.VaultTotals
	minimumTotalIdle sdkmath.Int
	shutdown         bool
}

// NewBook creates an empty vault book over the given ledger address.
func NewBook(address string, l *ledger.Ledger) (*Book, error) {
	if address == "" {
		return nil, errors.Join(ErrInvalidBook, errors.New("vault address cannot be empty"))
	}
	if l == nil {
		return nil, errors.Join(ErrInvalidBook, errors.New("ledger cannot be nil"))
	}
	return &Book{
		address:          address,
		ledger:           l,
		log:              logger.GetForComponent("vault_book"),
		entries:          make(map[types.StrategyID]*entry),
		totals:           types.NewVaultTotals(),
		minimumTotalIdle: sdkmath.ZeroInt(),
	}, nil
}

// Address returns the vault's ledger address.
func (b *Book) Address() string { return b.address }

// AddStrategy registers a strategy with zero debt and the given ceiling.
func (b *Book) AddStrategy(strat strategy.YieldStrategy, maxDebt sdkmath.Int) error {
	if strat == nil {
		return errors.Join(ErrInvalidBook, errors.New("strategy cannot be nil"))
	}
	if maxDebt.IsNil() || maxDebt.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strat.ID()
	if _, exists := b.entries[id]; exists {
		return errors.Join(ErrStrategyRegistered, fmt.Errorf("strategy %s", id))
	}
	b.entries[id] = &entry{
		strat:  strat,
		params: types.NewStrategyParams(maxDebt),
	}
	b.order = append(b.order, id)
	b.log.Info().Str("strategy", string(id)).Str("maxDebt", maxDebt.String()).Msg("Strategy registered")
	return nil
}

// RemoveStrategy deregisters a strategy. Its debt must already be zero.
func (b *Book) RemoveStrategy(id types.StrategyID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return errors.Join(ErrStrategyNotFound, fmt.Errorf("strategy %s", id))
	}
	if !e.params.CurrentDebt.IsZero() {
		return errors.Join(ErrStrategyHasDebt,
			fmt.Errorf("strategy %s owes %s", id, e.params.CurrentDebt))
	}
	delete(b.entries, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.log.Info().Str("strategy", string(id)).Msg("Strategy removed")
	return nil
}

// SetMaxDebt updates a strategy's allocation ceiling.
func (b *Book) SetMaxDebt(id types.StrategyID, maxDebt sdkmath.Int) error {
	if maxDebt.IsNil() || maxDebt.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return errors.Join(ErrStrategyNotFound, fmt.Errorf("strategy %s", id))
	}
	e.params.MaxDebt = maxDebt
	return nil
}

// SetMinimumTotalIdle updates the idle floor.
func (b *Book) SetMinimumTotalIdle(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minimumTotalIdle = amount
	return nil
}

// Shutdown puts the vault into recall-only mode. Irreversible.
func (b *Book) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.shutdown {
		b.shutdown = true
		b.log.Warn().Msg("Vault shut down, debt can only be recalled")
	}
}

// IsShutdown implements Manager.
func (b *Book) IsShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown
}

// MinimumTotalIdle implements Manager.
func (b *Book) MinimumTotalIdle() sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minimumTotalIdle
}

// Totals implements Manager.
func (b *Book) Totals() types.VaultTotals {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totals
}

// TotalAssets implements Manager.
func (b *Book) TotalAssets() sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totals.TotalAssets()
}

// StrategyIDs implements Manager.
func (b *Book) StrategyIDs() []types.StrategyID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]types.StrategyID, len(b.order))
	copy(ids, b.order)
	return ids
}

// StrategyParams implements Manager.
func (b *Book) StrategyParams(id types.StrategyID) (types.StrategyParams, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return types.StrategyParams{}, errors.Join(ErrStrategyNotFound, fmt.Errorf("strategy %s", id))
	}
	return e.params, nil
}

// SyncIdle reconciles TotalIdle with the vault's actual ledger balance. Used
// at startup and after external deposits into the vault address.
func (b *Book) SyncIdle() error {
	bal, err := b.ledger.BalanceOf(b.address)
	if err != nil {
		return fmt.Errorf("failed to read vault balance: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !bal.Equal(b.totals.TotalIdle) {
		b.log.Info().
			Str("recorded", b.totals.TotalIdle.String()).
			Str("actual", bal.String()).
			Msg("Idle reconciled to ledger balance")
		b.totals.TotalIdle = bal
	}
	return nil
}

// UpdateDebt implements Manager. The whole call is one critical section: the
// ledger and the strategy are snapshotted before the transfer, and both are
// restored if the rebalance fails, so a failed call leaves no trace.
func (b *Book) UpdateDebt(id types.StrategyID, targetDebt sdkmath.Int, maxLossBps uint32) (types.RebalanceReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt := types.RebalanceReceipt{
		StrategyID:      id,
		Direction:       types.DebtNoOp,
		RequestedTarget: targetDebt,
		MovedAssets:     sdkmath.ZeroInt(),
		Timestamp:       time.Now(),
	}

	e, ok := b.entries[id]
	if !ok {
		err := errors.Join(ErrStrategyNotFound, fmt.Errorf("strategy %s", id))
		receipt.Message = err.Error()
		return receipt, err
	}
	receipt.PriorDebt = e.params.CurrentDebt
	receipt.NewDebt = e.params.CurrentDebt

	ledgerSnap := b.ledger.Snapshot()
	var stratSnap any
	snapshotter, canSnapshot := e.strat.(strategy.Snapshotter)
	if canSnapshot {
		stratSnap = snapshotter.Snapshot()
	}

	result, err := rebalancer.Execute(
		e.strat,
		b.ledger,
		lossAssessor{strat: e.strat},
		b.address,
		e.params,
		b.totals,
		rebalancer.Request{
			TargetDebt:       targetDebt,
			MaxLossBps:       maxLossBps,
			MinimumTotalIdle: b.minimumTotalIdle,
			IsShutdown:       b.shutdown,
		},
	)
	if err != nil {
		b.ledger.Restore(ledgerSnap)
		if canSnapshot {
			snapshotter.Restore(stratSnap)
		}
		receipt.Message = err.Error()
		b.log.Error().Err(err).
			Str("strategy", string(id)).
			Str("target", targetDebt.String()).
			Msg("Rebalance failed, state rolled back")
		return receipt, err
	}

	receipt.Success = true
	receipt.NewDebt = result.NewDebt
	switch {
	case result.NewTotalIdle.GT(b.totals.TotalIdle):
		receipt.Direction = types.DebtDecrease
		receipt.MovedAssets = result.NewTotalIdle.Sub(b.totals.TotalIdle)
	case result.NewTotalIdle.LT(b.totals.TotalIdle):
		receipt.Direction = types.DebtIncrease
		receipt.MovedAssets = b.totals.TotalIdle.Sub(result.NewTotalIdle)
	default:
		receipt.Message = "no capacity to move debt"
	}

	// Persist the triple together while still inside the critical section.
	e.params.CurrentDebt = result.NewDebt
	b.totals.TotalIdle = result.NewTotalIdle
	b.totals.TotalDebt = result.NewTotalDebt

	return receipt, nil
}

// lossAssessor values how much of a withdrawal would crystallise a loss the
// vault has not yet reported, by comparing the strategy's live asset value
// against its recorded debt. The loss is the withdrawal's pro-rata share of
// the gap.
type lossAssessor struct {
	strat strategy.YieldStrategy
}

func (a lossAssessor) AssessUnrealisedLoss(_ types.StrategyID, currentDebt, requested sdkmath.Int) (sdkmath.Int, error) {
	if currentDebt.IsZero() || requested.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	held, err := a.strat.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read strategy assets: %w", err)
	}
	if held.GTE(currentDebt) {
		return sdkmath.ZeroInt(), nil
	}
	recoverable := requested.Mul(held).Quo(currentDebt)
	return requested.Sub(recoverable), nil
}
