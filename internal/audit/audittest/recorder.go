// Package audittest provides an in-memory audit service for package tests.
package audittest

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
)

type Entry struct {
	OrgID      *snowflake.ID
	ActorType  string
	ActorID    *string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

// Recorder captures audit calls in order. A non-nil Err is returned from
// every AuditLog call after the entry is recorded.
type Recorder struct {
	Err error

	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) AuditLog(_ context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		OrgID:      orgID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
	return r.Err
}

func (r *Recorder) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the recorded action names filtered by action when given.
func (r *Recorder) Actions(filter ...string) []string {
	want := make(map[string]struct{}, len(filter))
	for _, f := range filter {
		want[f] = struct{}{}
	}
	var out []string
	for _, e := range r.Entries() {
		if len(want) > 0 {
			if _, ok := want[e.Action]; !ok {
				continue
			}
		}
		out = append(out, e.Action)
	}
	return out
}

var _ auditdomain.Service = (*Recorder)(nil)
