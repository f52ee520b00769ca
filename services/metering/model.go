package metering

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Plan is a purchasable subscription plan. MonthlyBudgetUSD is nil when the
// plan carries no spend ceiling.
type Plan struct {
	ID               string    `gorm:"column:plan_id;primaryKey;type:varchar(64)"`
	Name             string    `gorm:"column:name;type:varchar(100)"`
	MonthlyBudgetUSD *float64  `gorm:"column:monthly_budget_usd"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (Plan) TableName() string {
	return "plans"
}

// BudgetResolver looks up the monthly USD budget configured for a plan.
// A nil result with nil error means no budget is set.
type BudgetResolver interface {
	MonthlyBudgetUSD(ctx context.Context, planID string) (*float64, error)
}

type gormBudgetResolver struct {
	db *gorm.DB
}

func NewBudgetResolver(db *gorm.DB) BudgetResolver {
	return &gormBudgetResolver{db: db}
}

func (r *gormBudgetResolver) MonthlyBudgetUSD(ctx context.Context, planID string) (*float64, error) {
	var plan Plan
	err := r.db.WithContext(ctx).Where("plan_id = ?", planID).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plan.MonthlyBudgetUSD, nil
}

// UpsertPlan creates or updates a plan row. Used by portal seeding.
func UpsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error {
	var existing Plan
	err := db.WithContext(ctx).Where("plan_id = ?", plan.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.WithContext(ctx).Create(plan).Error
	}
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&Plan{}).Where("plan_id = ?", plan.ID).Updates(map[string]any{
		"name":               plan.Name,
		"monthly_budget_usd": plan.MonthlyBudgetUSD,
		"updated_at":         time.Now(),
	}).Error
}
