package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/elektrorate/calendario-taller-jesus/internal/matching"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// ReconcileEnrolleeChange brings sessions and links in line with an
// enrollee's new slot list. It removes the enrollee's links for slots that
// disappeared, ensures a session and a link exist for every slot in next and
// finally persists the slot list.
//
// A removed slot whose link could not be deleted stays in the persisted list
// so the next call diffs it as removed again. Validation problems, a failure
// to load the enrollee and a failure to persist the slot list are returned as
// errors. Everything else is best effort: per-item failures land in the Report.
func (e *Engine) ReconcileEnrolleeChange(ctx context.Context, enrollee persistence.Enrollee, previous, next []persistence.AssignedSlot) (Report, error) {
	var report Report

	vErr := &ValidationError{}
	if enrollee.ID == "" {
		vErr.add("enrollee_id", "enrollee id is required")
	}
	name := matching.FullName(enrollee.FirstName, enrollee.LastName)
	if name == "" {
		vErr.add("name", "enrollee name is required")
	}
	normalizedNext, err := NormalizeSlots(next)
	var inner *ValidationError
	if errors.As(err, &inner) {
		for field, msg := range inner.FieldErrors {
			vErr.add(field, msg)
		}
	}
	if vErr.HasErrors() {
		return report, vErr
	}
	next = normalizedNext
	previous = canonicalSlots(previous)

	logger := e.operationLogger(ctx, "reconcile_enrollee", "enrollee_id", enrollee.ID)

	stored, err := e.enrollees.GetEnrollee(ctx, enrollee.ID)
	if err != nil {
		return report, fmt.Errorf("load enrollee %s: %w", enrollee.ID, err)
	}

	existing, linksKnown := e.enrolleeLinks(ctx, logger, enrollee.ID)
	kind := matching.InferKind(enrollee.PreferredKind, e.defaultKind)
	resolver := newSessionResolver(e)
	diff := matching.DiffSlots(previous, next)

	nextKeys := make(map[matching.SessionKey]struct{}, len(next))
	for _, slot := range next {
		nextKeys[e.policy.ForSlot(slot, "")] = struct{}{}
	}

	var p plan
	removals := make([]removal, 0, len(diff.Removed))
	for _, slot := range diff.Removed {
		removals = append(removals, e.planRemoval(ctx, logger, &p, &report, resolver, enrollee.ID, slot, nextKeys, existing, linksKnown))
	}
	for _, slot := range next {
		e.planEnsure(ctx, logger, &p, &report, resolver, enrollee.ID, name, slot, kind, existing, linksKnown)
	}

	e.apply(ctx, logger, &p, &report)

	persisted := slices.Clone(next)
	for _, r := range removals {
		if !r.done(&p) {
			persisted = append(persisted, r.slot)
		}
	}
	persisted = canonicalSlots(persisted)
	if len(persisted) > len(next) {
		logger.Warn("keeping removed slots until their links are deleted", "pending_removals", len(persisted)-len(next))
	}
	if !slices.Equal(canonicalSlots(stored.Slots), persisted) {
		if err := e.enrollees.ReplaceSlots(ctx, enrollee.ID, persisted); err != nil {
			return report, fmt.Errorf("persist slots for enrollee %s: %w", enrollee.ID, err)
		}
		report.SlotsPersisted = true
	}

	logger.Info("enrollee reconciled",
		"removed_slots", len(diff.Removed),
		"added_slots", len(diff.Added),
		"retained_slots", len(diff.Retained),
		"sessions_created", len(report.SessionsCreated),
		"links_upserted", report.LinksUpserted,
		"links_deleted", report.LinksDeleted,
		"failures", len(report.Failures),
	)
	return report, nil
}

// enrolleeLinks loads the enrollee's links keyed by session id. When the
// lookup fails the run continues without the cache and writes unconditionally.
func (e *Engine) enrolleeLinks(ctx context.Context, logger *slog.Logger, enrolleeID string) (map[string]persistence.Link, bool) {
	links, err := e.links.FindLinks(ctx, persistence.LinkFilter{EnrolleeID: enrolleeID})
	if err != nil {
		logger.Warn("could not load enrollee links; writing unconditionally", "error", err, "error_kind", errorKind(err))
		return map[string]persistence.Link{}, false
	}
	out := make(map[string]persistence.Link, len(links))
	for _, link := range links {
		out[link.SessionID] = link
	}
	return out, true
}

// removal tracks the deletes planned for one removed slot.
type removal struct {
	slot         persistence.AssignedSlot
	ops          []int
	lookupFailed bool
}

// done reports whether every delete for the slot was applied.
func (r removal) done(p *plan) bool {
	if r.lookupFailed {
		return false
	}
	for _, idx := range r.ops {
		if p.ops[idx].status != statusApplied {
			return false
		}
	}
	return true
}

// planRemoval deletes the enrollee's links on sessions at the slot's time.
// Sessions are looked up without their kind so a link made under an earlier
// preferred kind is still found.
func (e *Engine) planRemoval(
	ctx context.Context,
	logger *slog.Logger,
	p *plan,
	report *Report,
	resolver *sessionResolver,
	enrolleeID string,
	slot persistence.AssignedSlot,
	nextKeys map[matching.SessionKey]struct{},
	existing map[string]persistence.Link,
	linksKnown bool,
) removal {
	r := removal{slot: slot}
	key := e.policy.ForSlot(slot, "")
	target := matching.KeyOf(slot).String()
	if _, stillWanted := nextKeys[key]; stillWanted {
		// Another slot in the new list resolves to the same session.
		report.NoOps++
		return r
	}

	sessions, err := resolver.lookup(ctx, key)
	if err != nil {
		report.recordLookupFailure(logger, "find_session", target, err)
		r.lookupFailed = true
		return r
	}
	if len(sessions) == 0 {
		report.NoOps++
		logger.Debug("no session for removed slot", "slot", target)
		return r
	}

	for _, session := range sessions {
		if _, linked := existing[session.ID]; linksKnown && !linked {
			report.NoOps++
			continue
		}
		idx := p.deleteLinks(persistence.LinkFilter{SessionID: session.ID, EnrolleeID: enrolleeID}, session.ID+"/"+enrolleeID, 1)
		r.ops = append(r.ops, idx)
		delete(existing, session.ID)
	}
	return r
}

func (e *Engine) planEnsure(
	ctx context.Context,
	logger *slog.Logger,
	p *plan,
	report *Report,
	resolver *sessionResolver,
	enrolleeID, name string,
	slot persistence.AssignedSlot,
	kind persistence.SessionKind,
	existing map[string]persistence.Link,
	linksKnown bool,
) {
	key := e.policy.ForSlot(slot, kind)
	target := matching.KeyOf(slot).String()

	sessionID := ""
	dependsOn := -1
	if linked, ok := e.linkedSession(ctx, resolver, slot, key, existing, linksKnown); ok {
		sessionID = linked.ID
	} else if idx, ok := resolver.planned[key]; ok {
		sessionID = p.ops[idx].session.ID
		dependsOn = idx
	} else {
		sessions, err := resolver.lookup(ctx, key)
		if err != nil {
			report.recordLookupFailure(logger, "find_session", target, err)
			return
		}
		if session, ok := pickSession(sessions, existing); ok {
			sessionID = session.ID
		} else if len(sessions) > 0 {
			report.NoOps++
			logger.Info("slot falls on a holiday; not linking", "slot", target)
			return
		} else {
			now := e.now()
			session := persistence.Session{
				ID:         e.idGenerator(),
				Date:       slot.Date,
				StartTime:  slot.StartTime,
				EndTime:    slot.EndTime,
				Kind:       kind,
				Provenance: persistence.ProvenanceDerived,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			dependsOn = p.createSession(session)
			resolver.planned[key] = dependsOn
			sessionID = session.ID
		}
	}

	desired := persistence.Link{
		SessionID:    sessionID,
		EnrolleeID:   enrolleeID,
		NameSnapshot: name,
		Attendance:   matching.IntentAttendance(slot.Intent),
	}
	if current, ok := existing[sessionID]; ok && linksKnown && sameLink(current, desired) {
		report.NoOps++
		return
	}
	p.upsertLink(desired, dependsOn)
	existing[sessionID] = desired
}

// linkedSession finds a session the enrollee is already linked to at the
// slot's time when the policy keys on kind, so a change of preferred kind
// keeps the existing link instead of adding a second session.
func (e *Engine) linkedSession(
	ctx context.Context,
	resolver *sessionResolver,
	slot persistence.AssignedSlot,
	key matching.SessionKey,
	existing map[string]persistence.Link,
	linksKnown bool,
) (persistence.Session, bool) {
	loose := e.policy.ForSlot(slot, "")
	if !linksKnown || loose == key {
		return persistence.Session{}, false
	}
	sessions, err := resolver.lookup(ctx, loose)
	if err != nil {
		return persistence.Session{}, false
	}
	for _, session := range sessions {
		if _, ok := existing[session.ID]; ok && session.Kind != persistence.KindFeriado {
			return session, true
		}
	}
	return persistence.Session{}, false
}

// pickSession prefers a session the enrollee is already linked to, then the
// earliest created one. Holiday sessions are never picked.
func pickSession(sessions []persistence.Session, existing map[string]persistence.Link) (persistence.Session, bool) {
	var first *persistence.Session
	for i := range sessions {
		session := &sessions[i]
		if session.Kind == persistence.KindFeriado {
			continue
		}
		if _, ok := existing[session.ID]; ok {
			return *session, true
		}
		if first == nil {
			first = session
		}
	}
	if first == nil {
		return persistence.Session{}, false
	}
	return *first, true
}

func sameLink(a, b persistence.Link) bool {
	return a.SessionID == b.SessionID &&
		a.EnrolleeID == b.EnrolleeID &&
		a.NameSnapshot == b.NameSnapshot &&
		a.Attendance == b.Attendance
}
