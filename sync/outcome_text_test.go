package sync

import (
	"strings"
	"testing"

	"github.com/harperreed/funnel/models"
)

func TestCompletionPatchIsIdempotent(t *testing.T) {
	ev := Event{ID: "e1", Summary: "Reunión: Acme", Description: "Cliente: Acme\nTeléfono: 555"}

	first := CompletionPatch(ev, models.OutcomeSale, "firmó contrato")
	ev.Summary = first.Summary
	ev.Description = first.Description
	second := CompletionPatch(ev, models.OutcomeSale, "firmó contrato")

	if first != second {
		t.Fatalf("second patch differs:\n%+v\n%+v", first, second)
	}
	if first.Summary != "✅ Reunión: Acme" {
		t.Errorf("unexpected summary %q", first.Summary)
	}
	if first.Description != "Cliente: Acme\nTeléfono: 555\nRESULTADO: Venta - firmó contrato" {
		t.Errorf("unexpected description %q", first.Description)
	}
	if first.ColorID != "10" {
		t.Errorf("expected sale color 10, got %q", first.ColorID)
	}
	if first.Outcome != "sale" {
		t.Errorf("expected outcome property sale, got %q", first.Outcome)
	}
}

func TestCompletionPatchReplacesPreviousResult(t *testing.T) {
	ev := Event{
		Summary:     "✅ Demo",
		Description: "RESULTADO: Quiere otra reunión\nAgenda: precios",
	}

	patch := CompletionPatch(ev, models.OutcomeNoInterest, "")

	if strings.Count(patch.Description, resultPrefix) != 1 {
		t.Fatalf("expected a single result line, got %q", patch.Description)
	}
	if patch.Description != "Agenda: precios\nRESULTADO: Sin interés" {
		t.Errorf("unexpected description %q", patch.Description)
	}
	if strings.Count(patch.Summary, doneMarker) != 1 {
		t.Errorf("marker duplicated in %q", patch.Summary)
	}
}

func TestCompletionPatchEmptyDescription(t *testing.T) {
	patch := CompletionPatch(Event{Summary: "Llamada"}, models.OutcomeNoShow, "multi\nline")
	if patch.Description != "RESULTADO: No se presentó - multi line" {
		t.Errorf("unexpected description %q", patch.Description)
	}
}

func TestOutcomeLabelFallsBackToCode(t *testing.T) {
	if got := OutcomeLabel(models.Outcome("mystery")); got != "mystery" {
		t.Errorf("expected raw code, got %q", got)
	}
	if got := OutcomeLabel(models.OutcomeWantsQuote); got != "Quiere cotización" {
		t.Errorf("unexpected label %q", got)
	}
}
