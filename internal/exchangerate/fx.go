package exchangerate

import (
	"github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/internal/exchangerate/repository"
	"github.com/smallbiznis/invoicing/internal/exchangerate/service"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("exchangerate.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(org organizationdomain.Service) domain.BaseCurrencyProvider { return org }),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(domain.Service)),
		),
	),
)
