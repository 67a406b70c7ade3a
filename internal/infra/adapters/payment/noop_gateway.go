package payment

import (
	"context"

	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

// NoopGateway approves everything. Dev mode only; never wire it in prod.
type NoopGateway struct {
	Provider model.Provider
}

func (n *NoopGateway) Name() model.Provider {
	if n.Provider == "" {
		return model.ProviderClick
	}
	return n.Provider
}

func (n *NoopGateway) Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error) {
	return adapter.LaunchParams{PayURL: "noop://pay/" + txn.ID, ProviderReference: "noop-" + txn.ID}, nil
}

func (n *NoopGateway) FetchStatus(ctx context.Context, reference string) (adapter.ProviderState, error) {
	return adapter.ProviderState{Status: adapter.RemoteStatusActive}, nil
}
