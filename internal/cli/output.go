package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/application"
	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Reconciliation finished with per-item failures
	ExitCommandError = 2 // Invalid input, configuration or store errors
)

// ExitError carries the exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Validation and lookup
// errors map to ExitCommandError; anything else to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, application.ErrNotFound),
		errors.Is(err, application.ErrAlreadyExists),
		errors.Is(err, attendance.ErrNotOnRoster),
		errors.Is(err, attendance.ErrInvalidStatus):
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope for command output.
type CLIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// textRenderer is implemented by views with a human-readable form.
type textRenderer interface {
	renderText(w io.Writer)
}

// Success writes data in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if r, ok := data.(textRenderer); ok {
		r.renderText(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// reportResult turns a reconciliation report into the command's error.
func reportResult(report reconcile.Report) error {
	if err := report.Err(); err != nil {
		return WrapExitError(ExitFailure, "reconciliation finished with failures; re-run to converge", err)
	}
	if report.Skipped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("reconciliation skipped %d writes; re-run to converge", report.Skipped))
	}
	return nil
}

type reportView struct {
	SessionsCreated []string `json:"sessions_created,omitempty"`
	LinksUpserted   int      `json:"links_upserted"`
	LinksDeleted    int      `json:"links_deleted"`
	SlotsPersisted  bool     `json:"slots_persisted"`
	NoOps           int      `json:"no_ops"`
	Skipped         int      `json:"skipped,omitempty"`
	Failures        []string `json:"failures,omitempty"`
	Unresolved      []string `json:"unresolved,omitempty"`
}

func newReportView(report reconcile.Report) reportView {
	view := reportView{
		SessionsCreated: report.SessionsCreated,
		LinksUpserted:   report.LinksUpserted,
		LinksDeleted:    report.LinksDeleted,
		SlotsPersisted:  report.SlotsPersisted,
		NoOps:           report.NoOps,
		Skipped:         report.Skipped,
		Unresolved:      report.Unresolved,
	}
	for _, f := range report.Failures {
		view.Failures = append(view.Failures, f.Error())
	}
	return view
}

type slotView struct {
	Date      string `json:"date"`
	StartTime string `json:"start"`
	EndTime   string `json:"end"`
	Intent    string `json:"intent"`
}

type enrolleeView struct {
	ID               string      `json:"id"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	PreferredKind    string      `json:"preferred_kind,omitempty"`
	ClassesRemaining int         `json:"classes_remaining"`
	Slots            []slotView  `json:"slots"`
	Report           *reportView `json:"report,omitempty"`
}

func newEnrolleeView(e persistence.Enrollee) enrolleeView {
	view := enrolleeView{
		ID:               e.ID,
		FirstName:        e.FirstName,
		LastName:         e.LastName,
		PreferredKind:    string(e.PreferredKind),
		ClassesRemaining: e.ClassesRemaining,
		Slots:            make([]slotView, 0, len(e.Slots)),
	}
	for _, s := range e.Slots {
		view.Slots = append(view.Slots, slotView{Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime, Intent: string(s.Intent)})
	}
	return view
}

func (v enrolleeView) renderText(w io.Writer) {
	fmt.Fprintf(w, "%s  %s %s  kind=%s classes=%d\n", v.ID, v.FirstName, v.LastName, v.PreferredKind, v.ClassesRemaining)
	for _, s := range v.Slots {
		fmt.Fprintf(w, "  %s %s-%s %s\n", s.Date, s.StartTime, s.EndTime, s.Intent)
	}
	if v.Report != nil {
		v.Report.renderText(w)
	}
}

func (v reportView) renderText(w io.Writer) {
	fmt.Fprintf(w, "  reconcile: sessions_created=%d links_upserted=%d links_deleted=%d no_ops=%d\n",
		len(v.SessionsCreated), v.LinksUpserted, v.LinksDeleted, v.NoOps)
	if len(v.Unresolved) > 0 {
		fmt.Fprintf(w, "  unresolved: %s\n", strings.Join(v.Unresolved, ", "))
	}
	for _, f := range v.Failures {
		fmt.Fprintf(w, "  failed: %s\n", f)
	}
}

type enrolleeListView []enrolleeView

func (v enrolleeListView) renderText(w io.Writer) {
	for _, e := range v {
		e.renderText(w)
	}
}

type entryView struct {
	ID           string            `json:"id"`
	Date         string            `json:"date"`
	StartTime    string            `json:"start"`
	EndTime      string            `json:"end"`
	Kind         string            `json:"kind"`
	Provenance   string            `json:"provenance"`
	TeacherID    string            `json:"teacher_id,omitempty"`
	SubstituteID string            `json:"substitute_id,omitempty"`
	WorkshopName string            `json:"workshop_name,omitempty"`
	Completed    bool              `json:"completed"`
	Roster       []string          `json:"roster"`
	Attendance   map[string]string `json:"attendance,omitempty"`
	Report       *reportView       `json:"report,omitempty"`
}

func newEntryView(entry application.CalendarEntry) entryView {
	s := entry.Session
	view := entryView{
		ID:           s.ID,
		Date:         s.Date,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Kind:         string(s.Kind),
		Provenance:   string(s.Provenance),
		TeacherID:    deref(s.TeacherID),
		SubstituteID: deref(s.SubstituteID),
		WorkshopName: deref(s.WorkshopName),
		Completed:    s.CompletedAt != nil,
		Roster:       entry.Roster,
	}
	if view.Roster == nil {
		view.Roster = []string{}
	}
	if len(entry.Attendance) > 0 {
		view.Attendance = make(map[string]string, len(entry.Attendance))
		for name, status := range entry.Attendance {
			view.Attendance[name] = string(status)
		}
	}
	return view
}

func (v entryView) renderText(w io.Writer) {
	fmt.Fprintf(w, "%s %s-%s  %-8s %-7s %s", v.Date, v.StartTime, v.EndTime, v.Kind, v.Provenance, v.ID)
	if v.Completed {
		fmt.Fprint(w, "  completed")
	}
	fmt.Fprintln(w)
	for _, name := range v.Roster {
		status := v.Attendance[name]
		if status == "" {
			status = string(persistence.AttendancePending)
		}
		fmt.Fprintf(w, "  %s (%s)\n", name, status)
	}
	if v.Report != nil {
		v.Report.renderText(w)
	}
}

type calendarView struct {
	Sessions  []entryView `json:"sessions"`
	Enrollees int         `json:"enrollees"`
}

func (v calendarView) renderText(w io.Writer) {
	if len(v.Sessions) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	for _, s := range v.Sessions {
		s.renderText(w)
	}
}

type attendanceView struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
}

func (v attendanceView) renderText(w io.Writer) {
	suffix := ""
	if !v.Changed {
		suffix = " (unchanged)"
	}
	fmt.Fprintf(w, "%s %s: %s%s\n", v.SessionID, v.Name, v.Status, suffix)
}

type migrateView struct {
	Applied int `json:"applied"`
}

func (v migrateView) renderText(w io.Writer) {
	fmt.Fprintf(w, "applied %d migration(s)\n", v.Applied)
}

type messageView struct {
	Message string `json:"message"`
}

func (v messageView) renderText(w io.Writer) {
	fmt.Fprintln(w, v.Message)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
