/*

This file contains the simulated yield strategy: a ledger-backed share
accounting implementation with behaviour knobs for the failure modes the
rebalancer must tolerate: liquidity locks, deposit caps, redeem slippage,
redeem premiums and partial deposit fills.

*/

package strategy

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/strandfi/dvm/internal/ledger"
	"github.com/strandfi/dvm/internal/logger"
	"github.com/strandfi/dvm/internal/types"
	"github.com/strandfi/dvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig  = errors.New("strategy configuration is invalid")
	ErrInvalidAmount  = errors.New("amount is invalid")
	ErrInvalidHolder  = errors.New("holder address is invalid")
	ErrSharesExceeded = errors.New("redeem exceeds share balance")
)

var strategyLogger = logger.GetForComponent("strategy")

// SimulatedConfig configures a Simulated strategy. The zero value of each
// sdkmath.Int knob (nil) means "no limit".
type SimulatedConfig struct {
	ID      types.StrategyID
	Address string
	Ledger  *ledger.Ledger

	// WithdrawLimit caps how much asset value the strategy will release per
	// redemption window (locked-liquidity behaviour).
	WithdrawLimit sdkmath.Int

	// DepositCap caps the strategy's total assets (TVL-limit behaviour).
	DepositCap sdkmath.Int

	// RedeemLossBps silently shaves the payout of every redeem (slippage).
	RedeemLossBps uint32

	// RedeemPremiumBps pays out more than the valued amount, funded from the
	// strategy's own balance (rounding-in-favor behaviour).
	RedeemPremiumBps uint32

	// DepositShortfallBps makes the strategy pull less than approved
	// (partial-fill behaviour).
	DepositShortfallBps uint32
}

// Simulated is a share-accounting yield strategy whose asset balance lives on
// the shared ledger, so the vault can observe every transfer it makes.
type Simulated struct {
	mu  sync.Mutex
	cfg SimulatedConfig

	shares      map[string]sdkmath.Int
	totalShares sdkmath.Int
}

type simulatedMemento struct {
	shares      map[string]sdkmath.Int
	totalShares sdkmath.Int
}

// NewSimulated creates a simulated strategy after validating its knobs.
func NewSimulated(cfg SimulatedConfig) (*Simulated, error) {
	if cfg.ID == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("strategy ID cannot be empty"))
	}
	if cfg.Address == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("strategy address cannot be empty"))
	}
	if cfg.Ledger == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("ledger cannot be nil"))
	}
	if cfg.RedeemLossBps > utils.MaxBps || cfg.RedeemPremiumBps > utils.MaxBps || cfg.DepositShortfallBps > utils.MaxBps {
		return nil, errors.Join(ErrInvalidConfig, errors.New("bps knobs must be at most 10000"))
	}
	if cfg.RedeemLossBps > 0 && cfg.RedeemPremiumBps > 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("redeem loss and premium are mutually exclusive"))
	}
	if !cfg.WithdrawLimit.IsNil() && cfg.WithdrawLimit.IsNegative() {
		return nil, errors.Join(ErrInvalidConfig, errors.New("withdraw limit cannot be negative"))
	}
	if !cfg.DepositCap.IsNil() && cfg.DepositCap.IsNegative() {
		return nil, errors.Join(ErrInvalidConfig, errors.New("deposit cap cannot be negative"))
	}

	return &Simulated{
		cfg:         cfg,
		shares:      make(map[string]sdkmath.Int),
		totalShares: sdkmath.ZeroInt(),
	}, nil
}

// ID implements YieldStrategy.
func (s *Simulated) ID() types.StrategyID { return s.cfg.ID }

// Address implements YieldStrategy.
func (s *Simulated) Address() string { return s.cfg.Address }

// TotalAssets implements YieldStrategy. The strategy's asset value is its
// observed ledger balance, so externally applied losses show up here.
func (s *Simulated) TotalAssets() (sdkmath.Int, error) {
	return s.cfg.Ledger.BalanceOf(s.cfg.Address)
}

// SharesOf returns the holder's share balance.
func (s *Simulated) SharesOf(holder string) sdkmath.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharesLocked(holder)
}

// MaxRedeemableShares implements YieldStrategy.
func (s *Simulated) MaxRedeemableShares(holder string) (sdkmath.Int, error) {
	if holder == "" {
		return sdkmath.ZeroInt(), ErrInvalidHolder
	}
	totalAssets, err := s.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.sharesLocked(holder)
	if s.cfg.WithdrawLimit.IsNil() {
		return held, nil
	}
	// Locked liquidity: only the shares covering WithdrawLimit worth of
	// assets are redeemable right now. Floor so the limit is never exceeded.
	limitShares := s.assetsToSharesFloorLocked(s.cfg.WithdrawLimit, totalAssets)
	return sdkmath.MinInt(held, limitShares), nil
}

// ConvertSharesToAssets implements YieldStrategy.
func (s *Simulated) ConvertSharesToAssets(shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || shares.IsNegative() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	totalAssets, err := s.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalShares.IsZero() {
		return shares, nil
	}
	return shares.Mul(totalAssets).Quo(s.totalShares), nil
}

// PreviewWithdrawShares implements YieldStrategy. Rounds up.
func (s *Simulated) PreviewWithdrawShares(assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || assets.IsNegative() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	totalAssets, err := s.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalShares.IsZero() || totalAssets.IsZero() {
		return assets, nil
	}
	// ceil(assets * totalShares / totalAssets)
	num := assets.Mul(s.totalShares)
	shares := num.Quo(totalAssets)
	if !num.Mod(totalAssets).IsZero() {
		shares = shares.AddRaw(1)
	}
	return shares, nil
}

// MaxDepositable implements YieldStrategy.
func (s *Simulated) MaxDepositable(receiver string) (sdkmath.Int, error) {
	if receiver == "" {
		return sdkmath.ZeroInt(), ErrInvalidHolder
	}
	if s.cfg.DepositCap.IsNil() {
		return Unbounded, nil
	}
	totalAssets, err := s.TotalAssets()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if totalAssets.GTE(s.cfg.DepositCap) {
		return sdkmath.ZeroInt(), nil
	}
	return s.cfg.DepositCap.Sub(totalAssets), nil
}

// Deposit implements YieldStrategy. Pulls the approved amount (minus any
// configured shortfall) from the depositor and mints shares for it.
func (s *Simulated) Deposit(assets sdkmath.Int, from string) error {
	if assets.IsNil() || !assets.IsPositive() {
		return ErrInvalidAmount
	}
	if from == "" {
		return ErrInvalidHolder
	}

	pull, err := utils.BpsOf(assets, utils.MaxBps-s.cfg.DepositShortfallBps)
	if err != nil {
		return fmt.Errorf("failed to compute deposit pull: %w", err)
	}
	if pull.IsZero() {
		strategyLogger.Warn().
			Str("strategy", string(s.cfg.ID)).
			Str("requested", assets.String()).
			Msg("Deposit shortfall reduced pull to zero, nothing pulled")
		return nil
	}

	assetsBefore, err := s.TotalAssets()
	if err != nil {
		return err
	}
	if err := s.cfg.Ledger.TransferFrom(from, s.cfg.Address, pull); err != nil {
		return fmt.Errorf("deposit pull failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var minted sdkmath.Int
	if s.totalShares.IsZero() || assetsBefore.IsZero() {
		minted = pull
	} else {
		minted = pull.Mul(s.totalShares).Quo(assetsBefore)
	}
	s.shares[from] = s.sharesLocked(from).Add(minted)
	s.totalShares = s.totalShares.Add(minted)

	strategyLogger.Debug().
		Str("strategy", string(s.cfg.ID)).
		Str("pulled", pull.String()).
		Str("minted", minted.String()).
		Msg("Deposit processed")
	return nil
}

// Redeem implements YieldStrategy. Burns the holder's shares and pays out the
// valued amount adjusted by the configured loss or premium, capped at the
// strategy's actual balance.
func (s *Simulated) Redeem(shares sdkmath.Int, holder string) error {
	if shares.IsNil() || !shares.IsPositive() {
		return ErrInvalidAmount
	}
	if holder == "" {
		return ErrInvalidHolder
	}

	totalAssets, err := s.TotalAssets()
	if err != nil {
		return err
	}

	s.mu.Lock()
	held := s.sharesLocked(holder)
	if shares.GT(held) {
		s.mu.Unlock()
		return errors.Join(ErrSharesExceeded,
			fmt.Errorf("redeem %s shares, holder %s has %s", shares, holder, held))
	}

	var value sdkmath.Int
	if s.totalShares.IsZero() {
		value = shares
	} else {
		value = shares.Mul(totalAssets).Quo(s.totalShares)
	}

	payoutBps := utils.MaxBps - s.cfg.RedeemLossBps + s.cfg.RedeemPremiumBps
	payout := value.MulRaw(int64(payoutBps)).QuoRaw(utils.MaxBps)
	payout = sdkmath.MinInt(payout, totalAssets)

	s.shares[holder] = held.Sub(shares)
	s.totalShares = s.totalShares.Sub(shares)
	s.mu.Unlock()

	if payout.IsPositive() {
		if err := s.cfg.Ledger.Transfer(s.cfg.Address, holder, payout); err != nil {
			return fmt.Errorf("redeem payout failed: %w", err)
		}
	}

	strategyLogger.Debug().
		Str("strategy", string(s.cfg.ID)).
		Str("sharesBurned", shares.String()).
		Str("payout", payout.String()).
		Msg("Redeem processed")
	return nil
}

// Snapshot implements Snapshotter.
func (s *Simulated) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]sdkmath.Int, len(s.shares))
	for holder, amt := range s.shares {
		cp[holder] = amt
	}
	return &simulatedMemento{shares: cp, totalShares: s.totalShares}
}

// Restore implements Snapshotter.
func (s *Simulated) Restore(snapshot any) {
	m, ok := snapshot.(*simulatedMemento)
	if !ok || m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shares = make(map[string]sdkmath.Int, len(m.shares))
	for holder, amt := range m.shares {
		s.shares[holder] = amt
	}
	s.totalShares = m.totalShares
}

func (s *Simulated) sharesLocked(holder string) sdkmath.Int {
	if amt, ok := s.shares[holder]; ok {
		return amt
	}
	return sdkmath.ZeroInt()
}

// assetsToSharesFloorLocked converts an asset amount to shares, rounding down.
func (s *Simulated) assetsToSharesFloorLocked(assets, totalAssets sdkmath.Int) sdkmath.Int {
	if s.totalShares.IsZero() || totalAssets.IsZero() {
		return assets
	}
	return assets.Mul(s.totalShares).Quo(totalAssets)
}
