/*

This file contains the in-process asset ledger: balances and scoped allowances
for the single asset a vault and its strategies share. Every monetary effect in
the system is observable here, which is what lets the rebalancer derive actuals
from balance deltas instead of trusting requested amounts.

*/

package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAddress        = errors.New("address is invalid")
	ErrInvalidAmount         = errors.New("amount is invalid")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

var ledgerLogger = logger.GetForComponent("asset_ledger")

// Ledger tracks balances and allowances for one asset. All methods are safe
// for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	precision  int
	balances   map[string]sdkmath.Int
	allowances map[string]map[string]sdkmath.Int
}

// Memento is a point-in-time copy of the full ledger state, used to roll the
// ledger back when a rebalance fails after its transfer already executed.
type Memento struct {
	balances   map[string]sdkmath.Int
	allowances map[string]map[string]sdkmath.Int
}

// New creates an empty ledger for the given asset.
func New(symbol string, precision int) (*Ledger, error) {
	if symbol == "" {
		return nil, errors.New("asset symbol cannot be empty")
	}
	if precision < 0 || precision > 18 {
		return nil, fmt.Errorf("asset precision must be between 0 and 18, got %d", precision)
	}
	return &Ledger{
		symbol:     symbol,
		precision:  precision,
		balances:   make(map[string]sdkmath.Int),
		allowances: make(map[string]map[string]sdkmath.Int),
	}, nil
}

// Symbol returns the asset symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Precision returns the asset's decimal precision.
func (l *Ledger) Precision() int { return l.precision }

// BalanceOf returns the balance held by an address. Unknown addresses hold zero.
func (l *Ledger) BalanceOf(holder string) (sdkmath.Int, error) {
	if holder == "" {
		return sdkmath.ZeroInt(), ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(holder), nil
}

// Mint credits new units to an address.
func (l *Ledger) Mint(to string, amount sdkmath.Int) error {
	if err := validateTransferArgs(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = l.balanceLocked(to).Add(amount)
	ledgerLogger.Debug().Str("to", to).Str("amount", amount.String()).Msg("Minted units")
	return nil
}

// Burn removes units from an address.
func (l *Ledger) Burn(from string, amount sdkmath.Int) error {
	if err := validateTransferArgs(from, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(from)
	if bal.LT(amount) {
		return errors.Join(ErrInsufficientFunds,
			fmt.Errorf("burn %s from %s exceeds balance %s", amount, from, bal))
	}
	l.balances[from] = bal.Sub(amount)
	return nil
}

// Transfer moves units between addresses.
func (l *Ledger) Transfer(from, to string, amount sdkmath.Int) error {
	if err := validateTransferArgs(from, amount); err != nil {
		return err
	}
	if to == "" {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

// Approve sets the exact allowance from owner to spender. A zero amount
// revokes the allowance entirely.
func (l *Ledger) Approve(owner, spender string, amount sdkmath.Int) error {
	if owner == "" || spender == "" {
		return ErrInvalidAddress
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.IsZero() {
		if spenders, ok := l.allowances[owner]; ok {
			delete(spenders, spender)
		}
		return nil
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]sdkmath.Int)
	}
	l.allowances[owner][spender] = amount
	return nil
}

// Allowance returns the remaining allowance from owner to spender.
func (l *Ledger) Allowance(owner, spender string) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spenders, ok := l.allowances[owner]; ok {
		if amt, ok := spenders[spender]; ok {
			return amt
		}
	}
	return sdkmath.ZeroInt()
}

// TransferFrom moves units from owner to spender, consuming the spender's
// allowance. This is how a strategy pulls an approved deposit.
func (l *Ledger) TransferFrom(owner, spender string, amount sdkmath.Int) error {
	if err := validateTransferArgs(owner, amount); err != nil {
		return err
	}
	if spender == "" {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := sdkmath.ZeroInt()
	if spenders, ok := l.allowances[owner]; ok {
		if amt, ok := spenders[spender]; ok {
			allowed = amt
		}
	}
	if allowed.LT(amount) {
		return errors.Join(ErrInsufficientAllowance,
			fmt.Errorf("spender %s allowed %s, requested %s", spender, allowed, amount))
	}
	if err := l.transferLocked(owner, spender, amount); err != nil {
		return err
	}
	remaining := allowed.Sub(amount)
	if remaining.IsZero() {
		delete(l.allowances[owner], spender)
	} else {
		l.allowances[owner][spender] = remaining
	}
	return nil
}

// Snapshot copies the full ledger state.
func (l *Ledger) Snapshot() *Memento {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := &Memento{
		balances:   make(map[string]sdkmath.Int, len(l.balances)),
		allowances: make(map[string]map[string]sdkmath.Int, len(l.allowances)),
	}
	for addr, bal := range l.balances {
		m.balances[addr] = bal
	}
	for owner, spenders := range l.allowances {
		cp := make(map[string]sdkmath.Int, len(spenders))
		for spender, amt := range spenders {
			cp[spender] = amt
		}
		m.allowances[owner] = cp
	}
	return m
}

// Restore resets the ledger to a previously captured snapshot.
func (l *Ledger) Restore(m *Memento) {
	if m == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[string]sdkmath.Int, len(m.balances))
	for addr, bal := range m.balances {
		l.balances[addr] = bal
	}
	l.allowances = make(map[string]map[string]sdkmath.Int, len(m.allowances))
	for owner, spenders := range m.allowances {
		cp := make(map[string]sdkmath.Int, len(spenders))
		for spender, amt := range spenders {
			cp[spender] = amt
		}
		l.allowances[owner] = cp
	}
	ledgerLogger.Warn().Msg("Ledger state restored from snapshot")
}

func (l *Ledger) balanceLocked(holder string) sdkmath.Int {
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) transferLocked(from, to string, amount sdkmath.Int) error {
	bal := l.balanceLocked(from)
	if bal.LT(amount) {
		return errors.Join(ErrInsufficientFunds,
			fmt.Errorf("transfer %s from %s exceeds balance %s", amount, from, bal))
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balanceLocked(to).Add(amount)
	return nil
}

func validateTransferArgs(addr string, amount sdkmath.Int) error {
	if addr == "" {
		return ErrInvalidAddress
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}
