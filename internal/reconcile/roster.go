package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// ReconcileSessionRoster makes the session's links match names. Links of
// enrollees not named are deleted; named enrollees without a link get one
// with attendance from the attendance map or pending. Names that match no
// enrollee are skipped and listed in Report.Unresolved. An empty names list
// deletes every link; the session itself is kept.
//
// When attendance is non-nil the links that stay on the roster are also
// synced to it, with absent keys meaning pending.
func (e *Engine) ReconcileSessionRoster(ctx context.Context, sessionID string, names []string, attendance map[string]persistence.Attendance) (Report, error) {
	var report Report

	vErr := &ValidationError{}
	if strings.TrimSpace(sessionID) == "" {
		vErr.add("session_id", "session id is required")
	}
	desired := matching.NormalizeNames(names)
	attendance = validateAttendanceMap(attendance, vErr)
	if vErr.HasErrors() {
		return report, vErr
	}

	logger := e.operationLogger(ctx, "reconcile_roster", "session_id", sessionID)

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return report, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session.Kind == persistence.KindFeriado && len(desired) > 0 {
		vErr.add("roster", "holiday sessions cannot have a roster")
		return report, vErr
	}

	links, err := e.links.FindLinks(ctx, persistence.LinkFilter{SessionID: sessionID})
	if err != nil {
		return report, fmt.Errorf("load links for session %s: %w", sessionID, err)
	}

	var p plan
	if len(desired) == 0 {
		if len(links) > 0 {
			p.deleteLinks(persistence.LinkFilter{SessionID: sessionID}, sessionID+"/*", len(links))
		}
		e.apply(ctx, logger, &p, &report)
		logger.Info("session roster cleared", "links_deleted", report.LinksDeleted, "failures", len(report.Failures))
		return report, nil
	}

	byName := e.enrolleesByName(ctx, logger, &report)

	desiredIDs := make(map[string]string, len(desired))
	desiredNames := make(map[string]struct{}, len(desired))
	for _, name := range desired {
		desiredNames[name] = struct{}{}
		if enrollee, ok := byName[name]; ok {
			desiredIDs[enrollee.ID] = name
		}
	}

	// kept maps a surviving link to the roster name it answers to. Links
	// resolved by enrollee id take the current name as their snapshot; links
	// matched only by snapshot keep it.
	type keptLink struct {
		link persistence.Link
		name string
	}
	covered := make(map[string]struct{}, len(desired))
	kept := make([]keptLink, 0, len(links))
	for _, link := range links {
		if name, ok := desiredIDs[link.EnrolleeID]; ok {
			covered[name] = struct{}{}
			kept = append(kept, keptLink{link: link, name: name})
			continue
		}
		snapshot := matching.NormalizeName(link.NameSnapshot)
		if _, ok := desiredNames[snapshot]; ok {
			covered[snapshot] = struct{}{}
			kept = append(kept, keptLink{link: link, name: link.NameSnapshot})
			continue
		}
		p.deleteLinks(persistence.LinkFilter{SessionID: sessionID, EnrolleeID: link.EnrolleeID}, sessionID+"/"+link.EnrolleeID, 1)
	}

	for _, k := range kept {
		refreshed := k.link
		refreshed.NameSnapshot = k.name
		if attendance != nil {
			refreshed.Attendance = attendanceFor(attendance, k.name)
		}
		if sameLink(k.link, refreshed) {
			report.NoOps++
			continue
		}
		p.upsertLink(refreshed, -1)
	}

	for _, name := range desired {
		if _, ok := covered[name]; ok {
			continue
		}
		enrollee, ok := byName[name]
		if !ok {
			report.Unresolved = append(report.Unresolved, name)
			logger.Info("roster name matches no enrollee", "name", name)
			continue
		}
		status := persistence.AttendancePending
		if attendance != nil {
			status = attendanceFor(attendance, name)
		}
		p.upsertLink(persistence.Link{
			SessionID:    sessionID,
			EnrolleeID:   enrollee.ID,
			NameSnapshot: name,
			Attendance:   status,
		}, -1)
	}

	e.apply(ctx, logger, &p, &report)

	logger.Info("session roster reconciled",
		"desired", len(desired),
		"links_upserted", report.LinksUpserted,
		"links_deleted", report.LinksDeleted,
		"unresolved", len(report.Unresolved),
		"failures", len(report.Failures),
	)
	return report, nil
}

// SyncSessionAttendance upserts attendance over the session's existing links
// without changing membership. Names missing from the map become pending.
func (e *Engine) SyncSessionAttendance(ctx context.Context, sessionID string, attendance map[string]persistence.Attendance) (Report, error) {
	var report Report

	vErr := &ValidationError{}
	if strings.TrimSpace(sessionID) == "" {
		vErr.add("session_id", "session id is required")
	}
	if attendance == nil {
		attendance = map[string]persistence.Attendance{}
	}
	attendance = validateAttendanceMap(attendance, vErr)
	if vErr.HasErrors() {
		return report, vErr
	}

	logger := e.operationLogger(ctx, "sync_attendance", "session_id", sessionID)

	if _, err := e.sessions.GetSession(ctx, sessionID); err != nil {
		return report, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	links, err := e.links.FindLinks(ctx, persistence.LinkFilter{SessionID: sessionID})
	if err != nil {
		return report, fmt.Errorf("load links for session %s: %w", sessionID, err)
	}

	var p plan
	for _, link := range links {
		updated := link
		updated.Attendance = attendanceFor(attendance, link.NameSnapshot)
		if updated.Attendance == link.Attendance {
			report.NoOps++
			continue
		}
		p.upsertLink(updated, -1)
	}

	e.apply(ctx, logger, &p, &report)
	logger.Info("session attendance synced", "links_upserted", report.LinksUpserted, "failures", len(report.Failures))
	return report, nil
}

// ClearSessionRoster deletes every link of a session. The session is kept.
func (e *Engine) ClearSessionRoster(ctx context.Context, sessionID string) (Report, error) {
	var report Report
	if strings.TrimSpace(sessionID) == "" {
		return report, &ValidationError{FieldErrors: map[string]string{"session_id": "session id is required"}}
	}

	logger := e.operationLogger(ctx, "clear_roster", "session_id", sessionID)

	links, err := e.links.FindLinks(ctx, persistence.LinkFilter{SessionID: sessionID})
	if err != nil {
		return report, fmt.Errorf("load links for session %s: %w", sessionID, err)
	}

	var p plan
	if len(links) > 0 {
		p.deleteLinks(persistence.LinkFilter{SessionID: sessionID}, sessionID+"/*", len(links))
	}
	e.apply(ctx, logger, &p, &report)
	logger.Info("session roster cleared", "links_deleted", report.LinksDeleted, "failures", len(report.Failures))
	return report, nil
}

// enrolleesByName indexes enrollees by normalized full name. When two share a
// name the first in list order wins. A failed lookup leaves the index empty so
// every new name ends up unresolved.
func (e *Engine) enrolleesByName(ctx context.Context, logger *slog.Logger, report *Report) map[string]persistence.Enrollee {
	enrollees, err := e.enrollees.ListEnrollees(ctx)
	if err != nil {
		report.recordLookupFailure(logger, "list_enrollees", "*", err)
		return map[string]persistence.Enrollee{}
	}
	out := make(map[string]persistence.Enrollee, len(enrollees))
	for _, enrollee := range enrollees {
		name := matching.FullName(enrollee.FirstName, enrollee.LastName)
		if name == "" {
			continue
		}
		if _, ok := out[name]; ok {
			logger.Debug("duplicate enrollee name", "name", name, "enrollee_id", enrollee.ID)
			continue
		}
		out[name] = enrollee
	}
	return out
}

// attendanceFor returns the entry for name, or pending.
func attendanceFor(attendance map[string]persistence.Attendance, name string) persistence.Attendance {
	switch status := attendance[matching.NormalizeName(name)]; status {
	case persistence.AttendancePresent, persistence.AttendanceAbsent:
		return status
	}
	return persistence.AttendancePending
}
