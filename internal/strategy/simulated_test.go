package strategy

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandfi/dvm/internal/ledger"
)

const holder = "vault-treasury"

func setup(t *testing.T, cfg SimulatedConfig) (*Simulated, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New("USDC", 6)
	require.NoError(t, err)
	cfg.Ledger = l
	if cfg.ID == "" {
		cfg.ID = "sim-alpha"
	}
	if cfg.Address == "" {
		cfg.Address = "strat-alpha"
	}
	s, err := NewSimulated(cfg)
	require.NoError(t, err)
	return s, l
}

func deposit(t *testing.T, s *Simulated, l *ledger.Ledger, amount int64) {
	t.Helper()
	amt := sdkmath.NewInt(amount)
	require.NoError(t, l.Mint(holder, amt))
	require.NoError(t, l.Approve(holder, s.Address(), amt))
	require.NoError(t, s.Deposit(amt, holder))
}

func TestConfigValidation(t *testing.T) {
	l, err := ledger.New("USDC", 6)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  SimulatedConfig
	}{
		{"empty id", SimulatedConfig{Address: "a", Ledger: l}},
		{"empty address", SimulatedConfig{ID: "x", Ledger: l}},
		{"nil ledger", SimulatedConfig{ID: "x", Address: "a"}},
		{"loss over 10000", SimulatedConfig{ID: "x", Address: "a", Ledger: l, RedeemLossBps: 10_001}},
		{"loss and premium", SimulatedConfig{ID: "x", Address: "a", Ledger: l, RedeemLossBps: 10, RedeemPremiumBps: 10}},
		{"negative withdraw limit", SimulatedConfig{ID: "x", Address: "a", Ledger: l, WithdrawLimit: sdkmath.NewInt(-1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSimulated(tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDepositMintsSharesAtCurrentPrice(t *testing.T) {
	s, l := setup(t, SimulatedConfig{})
	deposit(t, s, l, 1000)

	assert.Equal(t, "1000", s.SharesOf(holder).String())
	total, err := s.TotalAssets()
	require.NoError(t, err)
	assert.Equal(t, "1000", total.String())

	// Yield doubles the share price; the next deposit mints half the shares.
	require.NoError(t, l.Mint(s.Address(), sdkmath.NewInt(1000)))
	deposit(t, s, l, 1000)
	assert.Equal(t, "1500", s.SharesOf(holder).String())
}

func TestRedeemRoundTrip(t *testing.T) {
	s, l := setup(t, SimulatedConfig{})
	deposit(t, s, l, 1000)

	require.NoError(t, s.Redeem(sdkmath.NewInt(400), holder))

	bal, err := l.BalanceOf(holder)
	require.NoError(t, err)
	assert.Equal(t, "400", bal.String())
	assert.Equal(t, "600", s.SharesOf(holder).String())

	err = s.Redeem(sdkmath.NewInt(601), holder)
	assert.ErrorIs(t, err, ErrSharesExceeded)
}

func TestRedeemAppliesLoss(t *testing.T) {
	s, l := setup(t, SimulatedConfig{RedeemLossBps: 1000})
	deposit(t, s, l, 1000)

	require.NoError(t, s.Redeem(sdkmath.NewInt(500), holder))

	// 10 percent shaved from the 500 valued payout.
	bal, err := l.BalanceOf(holder)
	require.NoError(t, err)
	assert.Equal(t, "450", bal.String())
}

func TestWithdrawLimitBoundsRedeemableShares(t *testing.T) {
	s, l := setup(t, SimulatedConfig{WithdrawLimit: sdkmath.NewInt(300)})
	deposit(t, s, l, 1000)

	max, err := s.MaxRedeemableShares(holder)
	require.NoError(t, err)
	assert.Equal(t, "300", max.String())
}

func TestUnlimitedWithdrawAllowsFullBalance(t *testing.T) {
	s, l := setup(t, SimulatedConfig{})
	deposit(t, s, l, 1000)

	max, err := s.MaxRedeemableShares(holder)
	require.NoError(t, err)
	assert.Equal(t, "1000", max.String())
}

func TestDepositCapBoundsCapacity(t *testing.T) {
	s, l := setup(t, SimulatedConfig{DepositCap: sdkmath.NewInt(800)})
	deposit(t, s, l, 500)

	max, err := s.MaxDepositable(holder)
	require.NoError(t, err)
	assert.Equal(t, "300", max.String())

	deposit(t, s, l, 300)
	max, err = s.MaxDepositable(holder)
	require.NoError(t, err)
	assert.True(t, max.IsZero())
}

func TestPreviewWithdrawRoundsUp(t *testing.T) {
	s, l := setup(t, SimulatedConfig{})
	deposit(t, s, l, 1000)
	// Yield makes 3 assets per 2 shares; withdrawing 500 needs ceil(1000/3).
	require.NoError(t, l.Mint(s.Address(), sdkmath.NewInt(500)))

	shares, err := s.PreviewWithdrawShares(sdkmath.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, "334", shares.String())

	// The ceiling never undershoots: converting back covers the request.
	assets, err := s.ConvertSharesToAssets(shares)
	require.NoError(t, err)
	assert.True(t, assets.GTE(sdkmath.NewInt(500)))
}

func TestSnapshotRestoreRollsBackShares(t *testing.T) {
	s, l := setup(t, SimulatedConfig{})
	deposit(t, s, l, 1000)

	snap := s.Snapshot()
	require.NoError(t, s.Redeem(sdkmath.NewInt(700), holder))
	assert.Equal(t, "300", s.SharesOf(holder).String())

	s.Restore(snap)
	assert.Equal(t, "1000", s.SharesOf(holder).String())
}
