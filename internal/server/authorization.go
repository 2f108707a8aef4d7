package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicing/internal/authorization"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
)

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeOrgActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeOrgActionWithContext(c *gin.Context, object string, action string) error {
	ctx := c.Request.Context()
	subject, ok := authorization.SubjectFromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ErrOrgRequired
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, subject, orgID.String(), object, action)
}
