package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/services"
)

// WebhookReceiver resolves inbound deliveries to their workflow, verifies
// the HMAC-SHA256 signature over the raw payload, and enqueues exactly one
// execution per accepted delivery.
type WebhookReceiver struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	enqueuer    Enqueuer
}

func NewWebhookReceiver(logger *slog.Logger, persist persistence.Persistence, enqueuer Enqueuer) *WebhookReceiver {
	return &WebhookReceiver{
		logger:      logger.With("module", "webhook_receiver"),
		persistence: persist,
		enqueuer:    enqueuer,
	}
}

// Receive handles one delivery addressed to endpointID. A bad signature is
// an authentication error and creates no execution.
func (r *WebhookReceiver) Receive(ctx context.Context, endpointID string, payload []byte, signature string) (*models.WorkflowExecution, error) {
	webhook, err := r.persistence.Webhooks().ByEndpoint(ctx, endpointID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, &services.ServiceError{Op: "webhook_receive", Code: "not_found",
				Message: fmt.Sprintf("webhook endpoint %s not found", endpointID), Err: services.ErrNotFound}
		}

		return nil, err
	}

	if err := VerifySignature(webhook.Secret, payload, signature); err != nil {
		r.logger.Warn("Webhook signature rejected", "endpoint_id", endpointID)

		return nil, err
	}

	triggerData := decodePayload(payload)
	triggerData["webhook_id"] = webhook.ID
	triggerData["endpoint_id"] = endpointID

	execution, err := r.enqueuer.Enqueue(ctx, webhook.WorkflowID, triggerData, false)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Webhook delivery accepted",
		"endpoint_id", endpointID,
		"workflow_id", webhook.WorkflowID,
		"execution_id", execution.ID)

	return execution, nil
}

// VerifySignature checks an HMAC-SHA256 hex signature over payload. The
// "sha256=" prefix GitHub-style senders add is accepted. An empty secret
// disables verification for that endpoint.
func VerifySignature(secret string, payload []byte, signature string) error {
	if secret == "" {
		return nil
	}

	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return &services.ServiceError{Op: "webhook_receive", Code: "missing_signature",
			Message: "signature header is required", Err: services.ErrInvalidSignature}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &services.ServiceError{Op: "webhook_receive", Code: "bad_signature",
			Message: "signature does not match payload", Err: services.ErrInvalidSignature}
	}

	return nil
}

// Sign produces the hex HMAC-SHA256 signature senders attach to a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

func decodePayload(payload []byte) map[string]any {
	data := make(map[string]any)
	if len(payload) == 0 {
		return data
	}

	if err := json.Unmarshal(payload, &data); err != nil {
		return map[string]any{"raw": string(payload)}
	}

	return data
}
