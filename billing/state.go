package billing

import (
	"fmt"

	"fiscalai-backend/models"
)

// ErrIllegalTransition is returned when a handler asks for a status change the
// lifecycle does not allow. Any such request is a bug in the caller: handlers
// never write statuses directly, they go through Transition.
type ErrIllegalTransition struct {
	From models.SubscriptionStatus
	To   models.SubscriptionStatus
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal subscription transition %s -> %s", e.From, e.To)
}

// transitions is the closed set of allowed status moves. EXPIRED is terminal;
// a fresh checkout on an expired or canceled row restarts the lifecycle via
// CanRestart instead of a modeled transition.
var transitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionPending: {
		models.SubscriptionTrial,
		models.SubscriptionActive,
		models.SubscriptionCanceled,
		models.SubscriptionExpired,
	},
	models.SubscriptionTrial: {
		models.SubscriptionActive,
		models.SubscriptionPastDue,
		models.SubscriptionCanceled,
	},
	models.SubscriptionActive: {
		models.SubscriptionPastDue,
		models.SubscriptionCanceled,
	},
	models.SubscriptionPastDue: {
		models.SubscriptionActive,
		models.SubscriptionCanceled,
	},
	models.SubscriptionCanceled: {
		models.SubscriptionActive,
	},
	models.SubscriptionExpired: {},
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
// Self-transitions are allowed: a renewal leaves an ACTIVE subscription
// ACTIVE while extending its period.
func CanTransition(from, to models.SubscriptionStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies to onto the subscription after validating the move.
func Transition(sub *models.Subscription, to models.SubscriptionStatus) error {
	if !CanTransition(sub.Status, to) {
		return ErrIllegalTransition{From: sub.Status, To: to}
	}
	sub.Status = to
	return nil
}

// CanRestart reports whether a new checkout may reset this subscription back
// to PENDING. Only rows whose lifecycle has ended qualify.
func CanRestart(status models.SubscriptionStatus) bool {
	return status == models.SubscriptionCanceled || status == models.SubscriptionExpired
}
