// Package autonomy maps the account temperature to an outbound action.
package autonomy

import (
	"math"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

const (
	ManualCeiling   = 0.3
	BalancedCeiling = 0.7
)

type Band string

const (
	BandManual    Band = "manual"
	BandBalanced  Band = "balanced"
	BandAutopilot Band = "autopilot"
)

// Normalize clamps t into [0,1]. NaN becomes 0, the most conservative setting.
func Normalize(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func BandOf(temperature float64) Band {
	t := Normalize(temperature)
	switch {
	case t <= ManualCeiling:
		return BandManual
	case t <= BalancedCeiling:
		return BandBalanced
	default:
		return BandAutopilot
	}
}

// HighStakes reports whether a class needs review in the balanced band.
func HighStakes(class models.MessageClass) bool {
	switch class {
	case models.ClassScheduling, models.ClassCompensation, models.ClassOfferResponse,
		models.ClassDecline, models.ClassHarassment, models.ClassLeadConversion:
		return true
	}
	return false
}

// Decide is total and side-effect free. Lead-conversion turns always go to a
// human, and negative decline/harassment turns are held in every band.
func Decide(temperature float64, class models.MessageClass, sentiment models.Sentiment) models.Action {
	if sentiment == models.SentimentNegative && (class == models.ClassDecline || class == models.ClassHarassment) {
		return models.ActionHold
	}
	if class == models.ClassLeadConversion {
		return models.ActionQueueForApproval
	}
	switch BandOf(temperature) {
	case BandManual:
		return models.ActionQueueForApproval
	case BandBalanced:
		if HighStakes(class) {
			return models.ActionQueueForApproval
		}
		return models.ActionAutoSend
	default:
		return models.ActionAutoSend
	}
}
