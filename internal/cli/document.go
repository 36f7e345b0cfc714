package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/recurrence"
)

// EnrolleeDocument is one enrollee in an `enrollee apply` file. A document
// without an id creates an enrollee; with an id it replaces that enrollee's
// profile and slots.
type EnrolleeDocument struct {
	ID               string          `yaml:"id"`
	FirstName        string          `yaml:"first_name"`
	LastName         string          `yaml:"last_name"`
	PreferredKind    string          `yaml:"preferred_kind"`
	ClassesRemaining int             `yaml:"classes_remaining"`
	Slots            []SlotDocument  `yaml:"slots"`
	Weekly           *WeeklyDocument `yaml:"weekly"`
}

// SlotDocument is one assigned slot.
type SlotDocument struct {
	Date   string `yaml:"date"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Intent string `yaml:"intent"`
}

// WeeklyDocument expands into slots appended after the explicit ones.
type WeeklyDocument struct {
	StartsOn string   `yaml:"starts_on"`
	Weekdays []string `yaml:"weekdays"`
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Count    int      `yaml:"count"`
}

// DecodeEnrolleeDocuments reads every YAML document in r.
func DecodeEnrolleeDocuments(r io.Reader) ([]EnrolleeDocument, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var docs []EnrolleeDocument
	for {
		var doc EnrolleeDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode enrollee document %d: %w", len(docs)+1, err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, errors.New("no enrollee documents found")
	}
	return docs, nil
}

// Input converts the document into service input, expanding the weekly block.
func (d EnrolleeDocument) Input(planner *recurrence.Engine) (application.EnrolleeInput, error) {
	input := application.EnrolleeInput{
		FirstName:        d.FirstName,
		LastName:         d.LastName,
		PreferredKind:    persistence.SessionKind(d.PreferredKind),
		ClassesRemaining: d.ClassesRemaining,
		Slots:            make([]persistence.AssignedSlot, 0, len(d.Slots)),
	}
	for _, s := range d.Slots {
		input.Slots = append(input.Slots, persistence.AssignedSlot{
			Date:      s.Date,
			StartTime: s.Start,
			EndTime:   s.End,
			Intent:    persistence.Attendance(s.Intent),
		})
	}
	if d.Weekly == nil {
		return input, nil
	}

	weekdays := make([]time.Weekday, 0, len(d.Weekly.Weekdays))
	for _, name := range d.Weekly.Weekdays {
		day, err := recurrence.ParseWeekday(name)
		if err != nil {
			return application.EnrolleeInput{}, err
		}
		weekdays = append(weekdays, day)
	}
	generated, err := planner.Generate(recurrence.Rule{
		StartsOn:  d.Weekly.StartsOn,
		Weekdays:  weekdays,
		StartTime: d.Weekly.Start,
		EndTime:   d.Weekly.End,
		Count:     d.Weekly.Count,
	})
	if err != nil {
		return application.EnrolleeInput{}, err
	}
	input.Slots = append(input.Slots, generated...)
	return input, nil
}
