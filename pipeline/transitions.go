// ABOUTME: Fixed stage transition table, override paths and meeting outcome mapping
// ABOUTME: Pure lookups used by the stage machine and the funnel aggregator
package pipeline

import "github.com/harperreed/funnel/models"

var allowedTransitions = map[models.Stage][]models.Stage{
	models.StageProspectNew: {
		models.StageInContact, models.StageMeetingScheduled, models.StageLost,
	},
	models.StageInContact: {
		models.StageMeetingScheduled, models.StageLost,
	},
	models.StageMeetingScheduled: {
		models.StageMeetingScheduled, models.StageMeetingCompleted, models.StageNegotiating,
		models.StageSaleWon, models.StageLost,
	},
	models.StageMeetingCompleted: {
		models.StageMeetingScheduled, models.StageNegotiating, models.StageSaleWon, models.StageLost,
	},
	models.StageNegotiating: {
		models.StageMeetingScheduled, models.StageSaleWon, models.StageLost,
	},
}

// CanTransition reports whether the regular path allows from -> to.
func CanTransition(from, to models.Stage) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Override is an explicit shortcut that may jump from any non-terminal stage.
type Override string

const (
	OverrideConvertToCustomer Override = "convert_to_customer"
	OverrideDiscardProspect   Override = "discard_prospect"
)

// Target returns the stage an override lands on.
func (o Override) Target() (models.Stage, bool) {
	switch o {
	case OverrideConvertToCustomer:
		return models.StageSaleWon, true
	case OverrideDiscardProspect:
		return models.StageLost, true
	}
	return "", false
}

var outcomeStages = map[models.Outcome]models.Stage{
	models.OutcomeNoShow:              models.StageLost,
	models.OutcomeNoInterest:          models.StageLost,
	models.OutcomeWantsAnotherMeeting: models.StageMeetingScheduled,
	models.OutcomeWantsQuote:          models.StageNegotiating,
	models.OutcomeSale:                models.StageSaleWon,
}

// OutcomeStage maps a meeting outcome code to its target stage.
func OutcomeStage(o models.Outcome) (models.Stage, bool) {
	s, ok := outcomeStages[o]
	return s, ok
}
