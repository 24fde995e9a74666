package notify

import (
	"errors"
	"fmt"

	ical "github.com/arran4/golang-ical"

	"github.com/openvenue/scheduler/internal/model"
)

// BuildCalendar renders event occurrences as an iCalendar document, the
// report format handed to the notification sink for series exports.
func BuildCalendar(events []model.Event) (string, error) {
	if len(events) == 0 {
		return "", errors.New("no occurrences to export")
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//openvenue//scheduler//EN")

	for _, e := range events {
		ve := cal.AddEvent(fmt.Sprintf("occurrence-%d@openvenue", e.ID))
		ve.SetDtStampTime(e.UpdatedAt)
		ve.SetStartAt(e.StartsAt)
		ve.SetEndAt(e.EndsAt)
		ve.SetSummary(e.Name)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
	}
	return cal.Serialize(), nil
}
