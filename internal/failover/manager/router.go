package manager

import (
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// StoreRouter picks the backend for the next call.
type StoreRouter interface {
	Route() storage.Adapter
}

type healthRouter struct {
	primary storage.Adapter
	local   storage.Adapter
	health  *health.Controller
}

// NewRouter routes to primary while ctrl prefers it and to local otherwise.
func NewRouter(primary, local storage.Adapter, ctrl *health.Controller) StoreRouter {
	return &healthRouter{primary: primary, local: local, health: ctrl}
}

func (r *healthRouter) Route() storage.Adapter {
	if r.health.ShouldPreferPrimary() {
		return r.primary
	}
	return r.local
}
