package vault

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
)

func newActiveVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Config{ProposalID: 7, Leg: domain.LegBase, Underlying: "META"})
	require.NoError(t, err)
	v.Activate()
	return v
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ProposalID: 1, Leg: "sideways", Underlying: "META"})
	assert.Error(t, err)

	_, err = New(Config{ProposalID: 1, Leg: domain.LegBase, Underlying: ""})
	assert.Error(t, err)
}

func TestDeriveConditionalAsset_Deterministic(t *testing.T) {
	a := DeriveConditionalAsset("META", 7, domain.LegBase)
	b := DeriveConditionalAsset("META", 7, domain.LegBase)
	assert.Equal(t, a, b)

	// Any change to the triple yields a different identity.
	assert.NotEqual(t, a, DeriveConditionalAsset("META", 8, domain.LegBase))
	assert.NotEqual(t, a, DeriveConditionalAsset("META", 7, domain.LegQuote))
	assert.NotEqual(t, a, DeriveConditionalAsset("USDC", 7, domain.LegBase))

	// Two vaults constructed independently agree.
	v1, err := New(Config{ProposalID: 7, Leg: domain.LegBase, Underlying: "META"})
	require.NoError(t, err)
	v2, err := New(Config{ProposalID: 7, Leg: domain.LegBase, Underlying: "META"})
	require.NoError(t, err)
	assert.Equal(t, v1.ConditionalAsset(), v2.ConditionalAsset())
}

func TestVault_MutationsRequireActive(t *testing.T) {
	v, err := New(Config{ProposalID: 7, Leg: domain.LegBase, Underlying: "META"})
	require.NoError(t, err)

	err = v.Deposit("alice", big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrVaultNotActive)
	err = v.Split("alice", big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrVaultNotActive)
	err = v.Merge("alice", big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrVaultNotActive)
}

func TestVault_SplitMerge(t *testing.T) {
	v := newActiveVault(t)
	require.NoError(t, v.Deposit("alice", big.NewInt(1000)))

	require.NoError(t, v.Split("alice", big.NewInt(300)))
	bal := v.Balances("alice")
	assert.Equal(t, "700", bal.Regular.String())
	assert.Equal(t, "300", bal.Conditional.String())

	require.NoError(t, v.Merge("alice", big.NewInt(100)))
	bal = v.Balances("alice")
	assert.Equal(t, "800", bal.Regular.String())
	assert.Equal(t, "200", bal.Conditional.String())

	err := v.Split("alice", big.NewInt(10000))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "available 800")

	err = v.Merge("alice", big.NewInt(10000))
	assert.ErrorIs(t, err, domain.ErrInsufficientConditionalBalance)

	// Failed operations leave balances untouched.
	bal = v.Balances("alice")
	assert.Equal(t, "800", bal.Regular.String())
	assert.Equal(t, "200", bal.Conditional.String())
}

func TestVault_NonPositiveAmounts(t *testing.T) {
	v := newActiveVault(t)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		assert.ErrorIs(t, v.Deposit("alice", amount), domain.ErrNonPositiveAmount)
		assert.ErrorIs(t, v.Split("alice", amount), domain.ErrNonPositiveAmount)
		assert.ErrorIs(t, v.Merge("alice", amount), domain.ErrNonPositiveAmount)
	}
}

func TestVault_SupplyConservation(t *testing.T) {
	v := newActiveVault(t)
	require.NoError(t, v.Deposit("alice", big.NewInt(1000)))
	require.NoError(t, v.Deposit("bob", big.NewInt(500)))

	total := func() *big.Int {
		return new(big.Int).Add(v.TotalSupply(), v.ConditionalTotalSupply())
	}
	require.Equal(t, "1500", total().String())

	require.NoError(t, v.Split("alice", big.NewInt(400)))
	require.NoError(t, v.Split("bob", big.NewInt(500)))
	require.NoError(t, v.Merge("alice", big.NewInt(150)))
	assert.Equal(t, "1500", total().String())
}

func TestVault_FinalizeAndRedeem(t *testing.T) {
	v := newActiveVault(t)
	require.NoError(t, v.Deposit("alice", big.NewInt(1000)))
	require.NoError(t, v.Split("alice", big.NewInt(300)))

	_, err := v.RedeemWinning("alice")
	assert.ErrorIs(t, err, domain.ErrNotFinalized)

	err = v.Finalize(domain.ProposalPending)
	assert.Error(t, err, "non-terminal outcome must be rejected")

	require.NoError(t, v.Finalize(domain.ProposalPassed))
	assert.Equal(t, domain.VaultFinalized, v.Status())
	assert.Equal(t, domain.ProposalPassed, v.Outcome())
	// Idempotent.
	require.NoError(t, v.Finalize(domain.ProposalPassed))

	assert.ErrorIs(t, v.Split("alice", big.NewInt(1)), domain.ErrVaultFrozen)
	assert.ErrorIs(t, v.Merge("alice", big.NewInt(1)), domain.ErrVaultFrozen)
	assert.ErrorIs(t, v.Deposit("alice", big.NewInt(1)), domain.ErrVaultFrozen)

	redeemed, err := v.RedeemWinning("alice")
	require.NoError(t, err)
	assert.Equal(t, "300", redeemed.String())
	bal := v.Balances("alice")
	assert.Equal(t, "1000", bal.Regular.String())
	assert.Equal(t, "0", bal.Conditional.String())

	// Second redemption finds nothing left.
	redeemed, err = v.RedeemWinning("alice")
	require.NoError(t, err)
	assert.Equal(t, "0", redeemed.String())
}

func TestVault_RedeemLosingSide(t *testing.T) {
	v := newActiveVault(t)
	require.NoError(t, v.Deposit("alice", big.NewInt(1000)))
	require.NoError(t, v.Split("alice", big.NewInt(300)))
	require.NoError(t, v.Finalize(domain.ProposalFailed))

	redeemed, err := v.RedeemWinning("alice")
	require.NoError(t, err)
	assert.Equal(t, "0", redeemed.String())

	bal := v.Balances("alice")
	assert.Equal(t, "700", bal.Regular.String())
	assert.Equal(t, "0", bal.Conditional.String(), "losing conditionals are written off")
}

func TestVault_RedeemAfterExecution(t *testing.T) {
	v := newActiveVault(t)
	require.NoError(t, v.Deposit("alice", big.NewInt(100)))
	require.NoError(t, v.Split("alice", big.NewInt(100)))
	require.NoError(t, v.Finalize(domain.ProposalExecuted))

	redeemed, err := v.RedeemWinning("alice")
	require.NoError(t, err)
	assert.Equal(t, "100", redeemed.String())
}

func TestVault_ConcurrentSplitMerge(t *testing.T) {
	v := newActiveVault(t)

	const users = 8
	const iterations = 200
	names := make([]string, users)
	for i := range names {
		names[i] = string(rune('a' + i))
		require.NoError(t, v.Deposit(names[i], big.NewInt(iterations)))
	}

	var wg sync.WaitGroup
	for _, user := range names {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			one := big.NewInt(1)
			for i := 0; i < iterations; i++ {
				if err := v.Split(user, one); err != nil {
					t.Errorf("split %s: %v", user, err)
					return
				}
				if i%2 == 0 {
					if err := v.Merge(user, one); err != nil {
						t.Errorf("merge %s: %v", user, err)
						return
					}
				}
			}
		}(user)
	}
	wg.Wait()

	total := new(big.Int).Add(v.TotalSupply(), v.ConditionalTotalSupply())
	assert.Equal(t, big.NewInt(users*iterations).String(), total.String())
}
