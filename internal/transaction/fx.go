package transaction

import (
	"github.com/smallbiznis/txledger/internal/cache"
	eventrepo "github.com/smallbiznis/txledger/internal/event/repository"
	"github.com/smallbiznis/txledger/internal/transaction/repository"
	"github.com/smallbiznis/txledger/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(eventrepo.Provide),
	fx.Provide(repository.Provide),
	fx.Provide(func(c *cache.CountCache) service.CountCache { return c }),
	fx.Provide(service.NewReconciler),
	fx.Provide(service.NewSearchService),
)
