package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

type opKind int

const (
	opCreateSession opKind = iota + 1
	opUpsertLink
	opDeleteLinks
)

func (k opKind) String() string {
	switch k {
	case opCreateSession:
		return "create_session"
	case opUpsertLink:
		return "upsert_link"
	case opDeleteLinks:
		return "delete_links"
	}
	return "unknown"
}

type opStatus int

const (
	statusPending opStatus = iota
	statusApplied
	statusFailed
	statusSkipped
)

// pendingOp is one write in a plan. dependsOn is the index of an earlier op
// that must have been applied first, or -1.
type pendingOp struct {
	kind      opKind
	target    string
	session   persistence.Session
	link      persistence.Link
	filter    persistence.LinkFilter
	rows      int
	dependsOn int
	status    opStatus
	err       error
}

// plan is the arena of writes for one invocation. Ops are applied in order.
type plan struct {
	ops []pendingOp
}

func (p *plan) createSession(session persistence.Session) int {
	p.ops = append(p.ops, pendingOp{
		kind:      opCreateSession,
		target:    fmt.Sprintf("%s %s-%s", session.Date, session.StartTime, session.EndTime),
		session:   session,
		dependsOn: -1,
	})
	return len(p.ops) - 1
}

func (p *plan) upsertLink(link persistence.Link, dependsOn int) int {
	p.ops = append(p.ops, pendingOp{
		kind:      opUpsertLink,
		target:    link.SessionID + "/" + link.EnrolleeID,
		link:      link,
		dependsOn: dependsOn,
	})
	return len(p.ops) - 1
}

// deleteLinks plans a delete expected to remove rows link rows.
func (p *plan) deleteLinks(filter persistence.LinkFilter, target string, rows int) int {
	p.ops = append(p.ops, pendingOp{
		kind:      opDeleteLinks,
		target:    target,
		filter:    filter,
		rows:      rows,
		dependsOn: -1,
	})
	return len(p.ops) - 1
}

func (p *plan) empty() bool {
	return len(p.ops) == 0
}

// apply runs every pending op in order and folds the outcome into report.
// A failed op never stops the ops after it; ops that depend on a failed or
// skipped op are skipped.
func (e *Engine) apply(ctx context.Context, logger *slog.Logger, p *plan, report *Report) {
	if p.empty() {
		logger.Debug("nothing to write")
		return
	}
	for i := range p.ops {
		op := &p.ops[i]
		if op.status != statusPending {
			continue
		}
		if op.dependsOn >= 0 && p.ops[op.dependsOn].status != statusApplied {
			op.status = statusSkipped
			report.Skipped++
			logger.Warn("skipping write after failed dependency",
				"op", op.kind.String(), "target", op.target, "depends_on", p.ops[op.dependsOn].target)
			continue
		}

		var err error
		switch op.kind {
		case opCreateSession:
			err = e.sessions.CreateSession(ctx, op.session)
		case opUpsertLink:
			link := op.link
			link.UpdatedAt = e.now()
			err = e.links.UpsertLinks(ctx, []persistence.Link{link})
		case opDeleteLinks:
			err = e.links.DeleteLinks(ctx, op.filter)
		default:
			err = fmt.Errorf("unknown op kind %d", op.kind)
		}

		if err != nil {
			op.status = statusFailed
			op.err = err
			report.Failures = append(report.Failures, Failure{Operation: op.kind.String(), Target: op.target, Err: err})
			logger.Warn("reconciliation write failed",
				"op", op.kind.String(), "target", op.target, "error", err, "error_kind", errorKind(err))
			continue
		}

		op.status = statusApplied
		switch op.kind {
		case opCreateSession:
			report.SessionsCreated = append(report.SessionsCreated, op.session.ID)
		case opUpsertLink:
			report.LinksUpserted++
		case opDeleteLinks:
			report.LinksDeleted += op.rows
		}
	}
}

func (r *Report) recordLookupFailure(logger *slog.Logger, operation, target string, err error) {
	r.Failures = append(r.Failures, Failure{Operation: operation, Target: target, Err: err})
	logger.Warn("reconciliation lookup failed",
		"op", operation, "target", target, "error", err, "error_kind", errorKind(err))
}
