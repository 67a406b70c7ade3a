package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/infra/logging"
	"speaking-exam-subscription/internal/infra/metrics"
	"speaking-exam-subscription/internal/usecase"
)

// pubSubEnvelope is the Cloud Pub/Sub push wrapper around an RTDN message.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"` // base64 of developerNotification
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// developerNotification is the decoded RTDN payload.
type developerNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification"`
}

// playWebhookHandler unwraps the Pub/Sub push envelope. A 2xx acks the
// message; 5xx makes Pub/Sub redeliver, so only retryable failures go there.
func (s *Server) playWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithProvider(r.Context(), string(model.ProviderGooglePlay))

		var env pubSubEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			metrics.IncWebhook(string(model.ProviderGooglePlay), "malformed")
			http.Error(w, "Invalid envelope", http.StatusBadRequest)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
		if err != nil {
			metrics.IncWebhook(string(model.ProviderGooglePlay), "malformed")
			http.Error(w, "Invalid message data", http.StatusBadRequest)
			return
		}
		var note developerNotification
		if err := json.Unmarshal(raw, &note); err != nil {
			metrics.IncWebhook(string(model.ProviderGooglePlay), "malformed")
			http.Error(w, "Invalid notification", http.StatusBadRequest)
			return
		}

		if note.SubscriptionNotification == nil {
			// Test notifications and one-time-product events: ack and move on.
			metrics.IncWebhook(string(model.ProviderGooglePlay), "ignored")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		err = s.playHook.Handle(ctx, usecase.GooglePlayNotification{
			Version:          note.SubscriptionNotification.Version,
			NotificationType: note.SubscriptionNotification.NotificationType,
			PurchaseToken:    note.SubscriptionNotification.PurchaseToken,
			SubscriptionID:   note.SubscriptionNotification.SubscriptionID,
		})
		if err != nil {
			s.log.Error().Err(err).Str("message_id", env.Message.MessageID).Msg("play notification failed; will be redelivered")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
