package repository

import (
	"context"

	"speaking-exam-subscription/internal/domain/model"
)

type PlanRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	// FindByGooglePlayProduct maps a Play subscriptionId back to a plan.
	FindByGooglePlayProduct(ctx context.Context, tx Tx, productID string) (*model.Plan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
