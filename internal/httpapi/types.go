// Package httpapi serves the control-plane JSON API: account, position,
// and shadow-book inspection, daily P&L, and the kill switch.
package httpapi

import (
	"shadowdesk/internal/domain"
	"shadowdesk/internal/shadow"
)

// SubscriptionJSON is a subscription with its capital allocation.
type SubscriptionJSON struct {
	domain.Subscription
	Investment float64 `json:"investment"`
}

// AccountJSON is an account with its subscriptions.
type AccountJSON struct {
	domain.Account
	Subscriptions []SubscriptionJSON `json:"subscriptions,omitempty"`
}

// PositionsResponse holds an account's positions grouped by subscription.
type PositionsResponse struct {
	AccountID int64                       `json:"account_id"`
	Positions map[int64][]domain.Position `json:"positions"`
}

// PnLResponse holds an account's daily P&L rows.
type PnLResponse struct {
	AccountID int64                `json:"account_id"`
	Rows      []domain.PnLSnapshot `json:"rows"`
}

// BookResponse is a subscription's shadow document with its derived
// per-side metrics.
type BookResponse struct {
	SubscriptionID int64          `json:"subscription_id"`
	Doc            *shadow.Doc    `json:"doc"`
	Long           shadow.Metrics `json:"long"`
	Short          shadow.Metrics `json:"short"`
}

// KillSwitchRequest selects which sides a kill-switch call touches. An
// empty side means both.
type KillSwitchRequest struct {
	Side string `json:"side,omitempty"`
}
