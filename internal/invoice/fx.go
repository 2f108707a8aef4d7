package invoice

import (
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicing/internal/invoice/repository"
	"github.com/smallbiznis/invoicing/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(lifecycle.NewTransitioner),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
