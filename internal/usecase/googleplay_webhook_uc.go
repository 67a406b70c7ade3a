package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/metrics"
)

// Play RTDN subscription notification types, per the Play Billing docs.
const (
	PlayNotificationRecovered     = 1
	PlayNotificationRenewed       = 2
	PlayNotificationCanceled      = 3
	PlayNotificationPurchased     = 4
	PlayNotificationOnHold        = 5
	PlayNotificationInGracePeriod = 6
	PlayNotificationRestarted     = 7
	PlayNotificationRevoked       = 12
	PlayNotificationExpired       = 13
)

// GooglePlayNotification is the decoded subscriptionNotification payload of
// one RTDN message.
type GooglePlayNotification struct {
	Version          string
	NotificationType int
	PurchaseToken    string
	SubscriptionID   string // Play product id
}

// Compile-time check
var _ GooglePlayWebhookUseCase = (*googlePlayWebhookUC)(nil)

type GooglePlayWebhookUseCase interface {
	// Handle applies one RTDN message. A nil return acknowledges the
	// message; an error makes the transport reply 5xx so Pub/Sub redelivers.
	Handle(ctx context.Context, n GooglePlayNotification) error
}

type googlePlayWebhookUC struct {
	payments    PaymentUseCase
	entitlement EntitlementUseCase
	users       repository.UserRepository
	plans       repository.PlanRepository
	log         *zerolog.Logger
	now         func() time.Time
}

func NewGooglePlayWebhookUseCase(
	payments PaymentUseCase,
	entitlement EntitlementUseCase,
	users repository.UserRepository,
	plans repository.PlanRepository,
	logger *zerolog.Logger,
) *googlePlayWebhookUC {
	return &googlePlayWebhookUC{
		payments:    payments,
		entitlement: entitlement,
		users:       users,
		plans:       plans,
		log:         logger,
		now:         time.Now,
	}
}

func (u *googlePlayWebhookUC) Handle(ctx context.Context, n GooglePlayNotification) error {
	if n.PurchaseToken == "" {
		metrics.IncWebhook(string(model.ProviderGooglePlay), "malformed")
		return domain.ErrInvalidArgument
	}

	log := u.log.With().
		Int("notification_type", n.NotificationType).
		Str("subscription_id", n.SubscriptionID).
		Logger()

	user, err := u.users.FindByProviderSubscriptionID(ctx, repository.NoTX, n.PurchaseToken)
	if errors.Is(err, domain.ErrNotFound) {
		// The token was never credited here: either the purchase races the
		// client's own verify call (which will credit it), or the token
		// belongs to an account we never saw. Ack either way; redelivery
		// cannot resolve it.
		metrics.IncWebhook(string(model.ProviderGooglePlay), "unknown_token")
		log.Warn().Msg("play notification for unknown purchase token")
		return nil
	}
	if err != nil {
		return err
	}
	log = log.With().Str("user_id", user.ID).Logger()

	switch n.NotificationType {
	case PlayNotificationPurchased, PlayNotificationRenewed, PlayNotificationRecovered, PlayNotificationRestarted:
		plan, err := u.plans.FindByGooglePlayProduct(ctx, repository.NoTX, n.SubscriptionID)
		if err != nil {
			return err
		}
		// Verify re-fetches the purchase from Google and routes the grant
		// through the ledger gate; each billing period carries its own order
		// id, so a redelivered notification is a no-op.
		if _, _, err := u.payments.Verify(ctx, user.ID, model.ProviderGooglePlay, n.PurchaseToken, plan.ID); err != nil {
			if errors.Is(err, domain.ErrTransactionCanceled) || errors.Is(err, domain.ErrPaymentNotCompleted) {
				// Stale notification; the remote state already moved on.
				metrics.IncWebhook(string(model.ProviderGooglePlay), "stale")
				log.Info().Err(err).Msg("play notification superseded by remote state")
				return nil
			}
			return err
		}
		metrics.IncWebhook(string(model.ProviderGooglePlay), "granted")
		log.Info().Msg("play purchase applied")
		return nil

	case PlayNotificationCanceled:
		err := u.entitlement.RequestCancel(ctx, repository.NoTX, user.ID, u.now())
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			// The local subscription already lapsed; nothing left to flag.
			metrics.IncWebhook(string(model.ProviderGooglePlay), "stale")
			log.Info().Msg("cancel notice for inactive subscription")
			return nil
		}
		if err != nil {
			return err
		}
		metrics.IncWebhook(string(model.ProviderGooglePlay), "cancel_requested")
		return nil

	case PlayNotificationRevoked:
		if err := u.entitlement.Revoke(ctx, repository.NoTX, user.ID); err != nil {
			return err
		}
		metrics.IncWebhook(string(model.ProviderGooglePlay), "revoked")
		return nil

	case PlayNotificationExpired:
		// No write here: expiry is detected lazily on the next
		// entitlement-sensitive read.
		metrics.IncWebhook(string(model.ProviderGooglePlay), "expired")
		log.Info().Msg("play subscription expired")
		return nil

	case PlayNotificationOnHold, PlayNotificationInGracePeriod:
		// Access keeps running until expiresAt; Google retries payment on
		// its side and will send RECOVERED or EXPIRED eventually.
		metrics.IncWebhook(string(model.ProviderGooglePlay), "payment_pending")
		log.Info().Msg("play subscription payment pending")
		return nil

	default:
		metrics.IncWebhook(string(model.ProviderGooglePlay), "ignored")
		log.Debug().Msg("play notification type ignored")
		return nil
	}
}
