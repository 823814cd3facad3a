// Package goals tracks consumption goals: progress against live aggregation,
// the edge-triggered warning notification and expiry into the goal archive.
package goals

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/types"
)

// DefaultWarningThreshold is the progress at which a goal warns.
const DefaultWarningThreshold = 0.8

// ErrInvalidGoal is returned when a new goal is missing a title, a positive
// target or a known period.
var ErrInvalidGoal = errors.New("goals: invalid goal")

// Evaluation is the state of a goal against the latest consumption.
type Evaluation struct {
	// Current is the consumption the progress is based on.
	Current float64 `json:"current"`
	// Progress is Current/Target, 0 when the target is not positive.
	Progress float64 `json:"progress"`
	// Live is false when Current came from the stored fallback.
	Live bool `json:"live"`
	// ShouldNotify is set on the upward threshold crossing only.
	ShouldNotify bool `json:"-"`
	// ShouldClear is set when a warned goal fell back below the threshold.
	ShouldClear bool `json:"-"`
}

// EvaluateGoalProgress evaluates goal against the default warning threshold.
// live must be the aggregation of the goal's period; when it is nil or of
// another period the stored Current is used instead.
func EvaluateGoalProgress(goal types.Goal, live *types.AggregationResult) Evaluation {
	return Evaluate(goal, live, DefaultWarningThreshold)
}

// Evaluate is EvaluateGoalProgress with an explicit threshold.
func Evaluate(goal types.Goal, live *types.AggregationResult, threshold float64) Evaluation {
	var ev Evaluation
	if live != nil && live.Period == goal.Period {
		ev.Current = calc.Sanitize(live.Totals.ConsumptionKWh)
		ev.Live = true
	} else {
		ev.Current = calc.Sanitize(goal.Current)
	}

	target := goal.Target.Float()
	if goal.Target.Valid() && target > 0 {
		ev.Progress = calc.Sanitize(ev.Current / target)
	}

	above := ev.Progress > 0 && ev.Progress >= threshold
	ev.ShouldNotify = above && !goal.Notified
	ev.ShouldClear = !above && goal.Notified
	return ev
}

// Summary holds the derived numbers shown next to a goal.
type Summary struct {
	Evaluation
	ProgressPercent float64 `json:"progressPercent"`
	RemainingKWh    float64 `json:"remainingKWh"`
	// RemainingCost is what the remaining kWh would cost.
	RemainingCost float64 `json:"remainingCost"`
	// SavingsPercent is how far below the target the goal is, within 0-100.
	SavingsPercent float64 `json:"savingsPercent"`
}

// Summarize derives the display numbers of a goal.
func Summarize(goal types.Goal, ev Evaluation, rates calc.Rates) Summary {
	s := Summary{
		Evaluation:      ev,
		ProgressPercent: ev.Progress * 100,
	}
	target := goal.Target.Float()
	if !goal.Target.Valid() || target <= 0 {
		return s
	}
	s.RemainingKWh = math.Max(0, target-ev.Current)
	s.RemainingCost = rates.Cost(s.RemainingKWh)
	s.SavingsPercent = math.Min(100, math.Max(0, (target-ev.Current)/target*100))
	return s
}

// Validate checks a goal a user wants to create.
func Validate(goal types.Goal) error {
	if strings.TrimSpace(goal.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidGoal)
	}
	if !goal.Target.Valid() || goal.Target.Float() <= 0 {
		return fmt.Errorf("%w: target must be a positive number", ErrInvalidGoal)
	}
	if !goal.Period.Valid() {
		return fmt.Errorf("%w: unknown period %q", ErrInvalidGoal, goal.Period)
	}
	return nil
}

func warningBody(goal types.Goal, ev Evaluation) string {
	return fmt.Sprintf(
		"You have used %.0f%% of your %s goal %q (%.2f of %.2f kWh).",
		ev.Progress*100,
		goal.Period,
		goal.Title,
		ev.Current,
		goal.Target.Float(),
	)
}
