package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestGetOrCreateUserCreatesOnce(t *testing.T) {
	s := newTestStorage(t)

	first, err := s.GetOrCreateUser(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), first.TgID)
	assert.Equal(t, 0, first.BalanceRub)
	assert.Nil(t, first.LastChargeDate)
	assert.Nil(t, first.InviterTg)
	assert.False(t, first.ReferralBonusPaid)

	second, err := s.GetOrCreateUser(42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateUserConcurrent(t *testing.T) {
	s := newTestStorage(t)

	const n = 10
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.GetOrCreateUser(777)
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "concurrent resolve must reconcile to one row")
	}
}

func TestCreditBalanceRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	balance, err := s.CreditBalance(1, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	got, err := s.GetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, 100, got)

	balance, err = s.CreditBalance(1, 50)
	require.NoError(t, err)
	assert.Equal(t, 150, balance)
}

func TestDebitChecksSufficiency(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.CreditBalance(1, 2)
	require.NoError(t, err)

	ok, err := s.Debit(1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := s.GetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, 2, balance, "failed debit must not mutate")

	ok, err = s.Debit(1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err = s.GetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestChargeDailyOncePerDay(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.CreditBalance(1, 10)
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

	ok, err := s.ChargeDaily(1, 3, day)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ChargeDaily(1, 3, day)
	require.NoError(t, err)
	assert.False(t, ok, "second charge on the same day must not happen")

	balance, err := s.GetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, 7, balance)

	u, err := s.GetUser(1)
	require.NoError(t, err)
	require.NotNil(t, u.LastChargeDate)
	assert.Equal(t, "2025-03-10", u.LastChargeDate.Format("2006-01-02"))

	ok, err = s.ChargeDaily(1, 3, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "next day charges again")

	balance, err = s.GetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestExtendSubscriptionStacks(t *testing.T) {
	s := newTestStorage(t)

	u, err := s.GetOrCreateUser(1)
	require.NoError(t, err)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	sub, err := s.ExtendSubscription(u.ID, 30, now)
	require.NoError(t, err)
	assert.Equal(t, now, sub.StartAt)
	assert.Equal(t, now.Add(30*24*time.Hour), sub.EndAt)

	sub, err = s.ExtendSubscription(u.ID, 30, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), sub.StartAt, "stacked period starts at the previous end")
	assert.Equal(t, now.Add(60*24*time.Hour), sub.EndAt, "second period starts where the first ends")

	end, err := s.SubscriptionEndsAt(u.ID)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, now.Add(60*24*time.Hour).Unix(), end.Unix())
}

func TestSubscriptionEndsAtEmpty(t *testing.T) {
	s := newTestStorage(t)

	u, err := s.GetOrCreateUser(1)
	require.NoError(t, err)

	end, err := s.SubscriptionEndsAt(u.ID)
	require.NoError(t, err)
	assert.Nil(t, end)
}

func TestSetInviterFirstWriteWins(t *testing.T) {
	s := newTestStorage(t)

	ok, err := s.SetInviterIfFirst(1, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetInviterIfFirst(1, 200)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := s.GetUser(1)
	require.NoError(t, err)
	require.NotNil(t, u.InviterTg)
	assert.Equal(t, int64(100), *u.InviterTg)
}

func TestPayReferralBonusOnce(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.SetInviterIfFirst(1, 100)
	require.NoError(t, err)

	paid, err := s.PayReferralBonus(1, 50)
	require.NoError(t, err)
	assert.True(t, paid)

	paid, err = s.PayReferralBonus(1, 50)
	require.NoError(t, err)
	assert.False(t, paid)

	balance, err := s.GetBalance(100)
	require.NoError(t, err)
	assert.Equal(t, 50, balance, "bonus credited exactly once")

	u, err := s.GetUser(1)
	require.NoError(t, err)
	assert.True(t, u.ReferralBonusPaid)
}

func TestPayReferralBonusWithoutInviter(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetOrCreateUser(1)
	require.NoError(t, err)

	paid, err := s.PayReferralBonus(1, 50)
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestMarkPaymentProcessedDeduplicates(t *testing.T) {
	s := newTestStorage(t)

	isNew, err := s.MarkPaymentProcessed("charge-1", 1, "topup", 100)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.MarkPaymentProcessed("charge-1", 1, "topup", 100)
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = s.MarkPaymentProcessed("charge-2", 1, "topup", 100)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestApplyTopUpConsumesChargeWithCredit(t *testing.T) {
	s := newTestStorage(t)

	balance, applied, err := s.ApplyTopUp(1, 100, "charge-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 100, balance)

	// Charge id is consumed together with the credit
	isNew, err := s.MarkPaymentProcessed("charge-1", 1, "topup", 100)
	require.NoError(t, err)
	assert.False(t, isNew)

	balance, applied, err = s.ApplyTopUp(1, 100, "charge-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 100, balance, "redelivered confirmation must not credit twice")
}

func TestApplyTopUpFailureLeavesChargeUnconsumed(t *testing.T) {
	s := newTestStorage(t)

	// Make the credit step fail after the charge id insert
	_, err := s.db.Exec("DROP TABLE users")
	require.NoError(t, err)

	_, _, err = s.ApplyTopUp(1, 100, "charge-1")
	require.Error(t, err)

	require.NoError(t, s.init())

	// Redelivery of the same confirmation must still credit
	balance, applied, err := s.ApplyTopUp(1, 100, "charge-1")
	require.NoError(t, err)
	assert.True(t, applied, "failed credit must not consume the charge id")
	assert.Equal(t, 100, balance)
}

func TestApplySubscriptionPurchaseFailureLeavesChargeUnconsumed(t *testing.T) {
	s := newTestStorage(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Make the grant insert fail after the charge id insert
	_, err := s.db.Exec("DROP TABLE subscriptions")
	require.NoError(t, err)

	_, _, err = s.ApplySubscriptionPurchase(1, 30, 100, "charge-1", now)
	require.Error(t, err)

	require.NoError(t, s.init())

	sub, applied, err := s.ApplySubscriptionPurchase(1, 30, 100, "charge-1", now)
	require.NoError(t, err)
	assert.True(t, applied, "failed grant must not consume the charge id")
	assert.Equal(t, now.Add(30*24*time.Hour), sub.EndAt)

	_, applied, err = s.ApplySubscriptionPurchase(1, 30, 100, "charge-1", now)
	require.NoError(t, err)
	assert.False(t, applied, "consumed charge id stays consumed")
}
