// ABOUTME: Rewrites an external event's title, description and color after an outcome
// ABOUTME: The display text is cosmetic; the structured outcome lives in a private extended property
package sync

import (
	"regexp"
	"strings"

	"github.com/harperreed/funnel/models"
)

const (
	doneMarker   = "✅ "
	resultPrefix = "RESULTADO:"
)

var resultLine = regexp.MustCompile(`(?m)^RESULTADO:.*(\r?\n)?`)

var outcomeLabels = map[models.Outcome]string{
	models.OutcomeNoShow:              "No se presentó",
	models.OutcomeNoInterest:          "Sin interés",
	models.OutcomeWantsAnotherMeeting: "Quiere otra reunión",
	models.OutcomeWantsQuote:          "Quiere cotización",
	models.OutcomeSale:                "Venta",
	models.OutcomeSuccessful:          "Completada",
	models.OutcomeFailed:              "Fallida",
}

// Google Calendar event color ids.
var outcomeColors = map[models.Outcome]string{
	models.OutcomeSale:                "10", // basil
	models.OutcomeWantsQuote:          "5",  // banana
	models.OutcomeWantsAnotherMeeting: "9",  // blueberry
	models.OutcomeNoShow:              "11", // tomato
	models.OutcomeNoInterest:          "8",  // graphite
	models.OutcomeSuccessful:          "2",  // sage
	models.OutcomeFailed:              "11",
}

// OutcomeLabel is the human text for an outcome code.
func OutcomeLabel(o models.Outcome) string {
	if l, ok := outcomeLabels[o]; ok {
		return l
	}
	return string(o)
}

// CompletionPatch computes the mutation for ev. Applying it twice yields the same event.
func CompletionPatch(ev Event, outcome models.Outcome, notes string) EventPatch {
	summary := ev.Summary
	if !strings.HasPrefix(summary, doneMarker) {
		summary = doneMarker + summary
	}

	description := strings.TrimRight(resultLine.ReplaceAllString(ev.Description, ""), "\r\n")
	line := resultPrefix + " " + OutcomeLabel(outcome)
	if notes = strings.TrimSpace(notes); notes != "" {
		line += " - " + strings.ReplaceAll(notes, "\n", " ")
	}
	if description != "" {
		description += "\n"
	}
	description += line

	return EventPatch{
		Summary:     summary,
		Description: description,
		ColorID:     outcomeColors[outcome],
		Outcome:     string(outcome),
	}
}
