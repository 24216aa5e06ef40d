package models

import (
	"fmt"
	"strings"
	"time"
)

// Condition is the direction of a price alert.
type Condition string

const (
	// ConditionAbove fires when price >= target.
	ConditionAbove Condition = "above"
	// ConditionBelow fires when price <= target.
	ConditionBelow Condition = "below"
)

// ParseCondition parses a condition name.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	}
	return "", fmt.Errorf("unknown condition %q (want above or below)", s)
}

// Crossed reports whether price satisfies the condition against target.
// Touching the target counts in both directions.
func (c Condition) Crossed(price, target float64) bool {
	switch c {
	case ConditionAbove:
		return price >= target
	case ConditionBelow:
		return price <= target
	}
	return false
}

// Symbol returns the comparison operator for display.
func (c Condition) Symbol() string {
	if c == ConditionAbove {
		return "≥"
	}
	return "≤"
}

// Alert represents a user-owned price alert.
type Alert struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Symbol      string     `json:"symbol"`
	Condition   Condition  `json:"condition"`
	TargetPrice float64    `json:"target_price"`
	IsActive    bool       `json:"is_active"`
	Triggered   bool       `json:"triggered"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
}

// Armed reports whether the alert is still eligible for evaluation.
func (a *Alert) Armed() bool {
	return a.IsActive && !a.Triggered
}

// ShortID returns the last 8 characters of the id, as shown to users.
func (a *Alert) ShortID() string {
	if len(a.ID) <= 8 {
		return a.ID
	}
	return a.ID[len(a.ID)-8:]
}
