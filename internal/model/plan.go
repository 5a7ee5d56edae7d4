package model

import "github.com/shopspring/decimal"

type PlanKind string

const (
	PlanPerPeriod PlanKind = "per-period"
	PlanLumpSum   PlanKind = "lump-sum"
	PlanNone      PlanKind = "none"
)

// ContributionPlan is the recommendation produced by the planning stage.
// ProjectedTotal never exceeds the remaining contribution.
type ContributionPlan struct {
	Kind           PlanKind        `json:"kind"`
	Periods        int             `json:"periods"`
	Remaining      decimal.Decimal `json:"remaining"`
	NaivePerPeriod decimal.Decimal `json:"naive_per_period"`
	Increment      decimal.Decimal `json:"increment"`
	PerPeriod      decimal.Decimal `json:"per_period"`
	LumpSum        decimal.Decimal `json:"lump_sum"`
	ProjectedTotal decimal.Decimal `json:"projected_total"`
	UnusedCapacity decimal.Decimal `json:"unused_capacity"`
	Notes          []string        `json:"notes,omitempty"`
}
