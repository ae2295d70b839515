package ledger

import (
	"errors"
	"time"

	"github.com/avdenisov/fitcoach-bot/internal/config"
	"github.com/avdenisov/fitcoach-bot/internal/storage"
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be positive")
	ErrNonPositiveDuration = errors.New("duration must be positive")
)

// Reason explains an access decision
type Reason string

const (
	ReasonSubActive      Reason = "sub_active"
	ReasonAlreadyCharged Reason = "already_charged"
	ReasonCharged        Reason = "charged"
	ReasonNoBalance      Reason = "no_balance"
)

// AccessResult is the outcome of a daily access check
type AccessResult struct {
	Allowed bool
	Reason  Reason
}

// Ledger enforces paid access: per-user balance, once-per-day charge,
// stackable subscriptions and one-time referral payouts
type Ledger struct {
	storage *storage.Storage
	cfg     *config.Config
	now     func() time.Time
}

// New creates a Ledger on top of the given storage
func New(cfg *config.Config, store *storage.Storage) *Ledger {
	return &Ledger{
		storage: store,
		cfg:     cfg,
		now:     time.Now,
	}
}

// DailyChargeRub is the per-day cost in whole rubles, kopecks rounded up
func (l *Ledger) DailyChargeRub() int {
	return (l.cfg.DailyPriceKop + 99) / 100
}

// CheckAccess decides whether the user may use the bot right now.
// Order: active subscription, already charged today, charge now, denied.
// At most one charge happens per UTC calendar day per user.
func (l *Ledger) CheckAccess(tgID int64) (AccessResult, error) {
	user, err := l.storage.GetOrCreateUser(tgID)
	if err != nil {
		return AccessResult{}, err
	}

	now := l.now().UTC()

	active, err := l.subscriptionActive(user.ID, now)
	if err != nil {
		return AccessResult{}, err
	}
	if active {
		return AccessResult{Allowed: true, Reason: ReasonSubActive}, nil
	}

	if user.LastChargeDate != nil && sameDay(*user.LastChargeDate, now) {
		return AccessResult{Allowed: true, Reason: ReasonAlreadyCharged}, nil
	}

	charged, err := l.storage.ChargeDaily(tgID, l.DailyChargeRub(), now)
	if err != nil {
		return AccessResult{}, err
	}
	if charged {
		return AccessResult{Allowed: true, Reason: ReasonCharged}, nil
	}

	// A concurrent request may have won the charge for today between our
	// read and the update; that still means access is paid for.
	user, err = l.storage.GetUser(tgID)
	if err != nil {
		return AccessResult{}, err
	}
	if user.LastChargeDate != nil && sameDay(*user.LastChargeDate, now) {
		return AccessResult{Allowed: true, Reason: ReasonAlreadyCharged}, nil
	}

	return AccessResult{Allowed: false, Reason: ReasonNoBalance}, nil
}

// HasAccess reports whether the user currently has access without
// charging anything (for status screens)
func (l *Ledger) HasAccess(tgID int64) (bool, error) {
	user, err := l.storage.GetOrCreateUser(tgID)
	if err != nil {
		return false, err
	}

	now := l.now().UTC()

	active, err := l.subscriptionActive(user.ID, now)
	if err != nil {
		return false, err
	}
	if active {
		return true, nil
	}

	if user.LastChargeDate != nil && sameDay(*user.LastChargeDate, now) {
		return true, nil
	}

	return user.BalanceRub >= l.DailyChargeRub(), nil
}

// Balance returns the user's balance in whole rubles
func (l *Ledger) Balance(tgID int64) (int, error) {
	return l.storage.GetBalance(tgID)
}

// SubscriptionEndsAt returns when the user's access-by-subscription runs
// out, or nil if they never bought one
func (l *Ledger) SubscriptionEndsAt(tgID int64) (*time.Time, error) {
	user, err := l.storage.GetOrCreateUser(tgID)
	if err != nil {
		return nil, err
	}
	return l.storage.SubscriptionEndsAt(user.ID)
}

// ApplyTopUp credits a confirmed balance top-up. A non-empty chargeID
// deduplicates repeated delivery of the same confirmation: the id is
// consumed in the same transaction as the credit, so a redelivered
// confirmation either retries a failed credit or is a no-op with
// applied = false — never a lost or doubled credit.
func (l *Ledger) ApplyTopUp(tgID int64, amountRub int, chargeID string) (newBalance int, applied bool, err error) {
	if amountRub <= 0 {
		return 0, false, ErrNonPositiveAmount
	}

	if chargeID == "" {
		balance, err := l.storage.CreditBalance(tgID, amountRub)
		if err != nil {
			return 0, false, err
		}
		return balance, true, nil
	}

	return l.storage.ApplyTopUp(tgID, amountRub, chargeID)
}

// ApplySubscriptionPurchase extends the user's subscription by the given
// number of days after a confirmed subscription payment. Deduplicated by
// chargeID the same way as ApplyTopUp.
func (l *Ledger) ApplySubscriptionPurchase(tgID int64, days int, chargeID string) (sub *storage.Subscription, applied bool, err error) {
	if days <= 0 {
		return nil, false, ErrNonPositiveDuration
	}

	if chargeID == "" {
		user, err := l.storage.GetOrCreateUser(tgID)
		if err != nil {
			return nil, false, err
		}
		sub, err := l.storage.ExtendSubscription(user.ID, days, l.now())
		if err != nil {
			return nil, false, err
		}
		return sub, true, nil
	}

	return l.storage.ApplySubscriptionPurchase(tgID, days, l.cfg.SubPriceRub, chargeID, l.now())
}

// RegisterReferral records who invited the user. Self-referrals and
// repeat registrations are rejected by returning false, never an error.
func (l *Ledger) RegisterReferral(inviteeTg, inviterTg int64) (bool, error) {
	if inviteeTg == inviterTg {
		return false, nil
	}
	return l.storage.SetInviterIfFirst(inviteeTg, inviterTg)
}

// RewardOnFirstPayment pays the inviter's one-time bonus after the
// invitee's first confirmed payment. Safe to call after every payment:
// it is a no-op unless an inviter is recorded and the bonus is unpaid.
func (l *Ledger) RewardOnFirstPayment(inviteeTg int64) (bool, error) {
	return l.storage.PayReferralBonus(inviteeTg, l.cfg.ReferralBonusRub)
}

func (l *Ledger) subscriptionActive(userID int64, now time.Time) (bool, error) {
	end, err := l.storage.SubscriptionEndsAt(userID)
	if err != nil {
		return false, err
	}
	if end == nil {
		return false, nil
	}
	return !dateOf(*end).Before(dateOf(now)), nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return dateOf(a).Equal(dateOf(b))
}
