package authorization

import (
	"context"

	"github.com/smallbiznis/invoicing/internal/auditcontext"
)

// SubjectFromContext maps the request actor onto a policy subject.
func SubjectFromContext(ctx context.Context) (string, bool) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok {
		return "", false
	}
	switch actor.Type {
	case ActorSystem:
		return ActorSystem, true
	case "user":
		if actor.ID == "" {
			return "", false
		}
		return userPrefix + actor.ID, true
	}
	return "", false
}
