package reporting

import (
	"github.com/smallbiznis/invoicing/internal/reporting/repository"
	"github.com/smallbiznis/invoicing/internal/reporting/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reporting.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
