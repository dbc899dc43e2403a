package gauge

import (
	"github.com/gin-gonic/gin"
)

// Mount creates an Engine and registers its routes on the given Gin router.
//
// Usage:
//
//	g, err := gauge.Mount(router, gauge.Config{})
//	if err != nil { ... }
//	defer g.Shutdown()
//	// API available at http://localhost:8080/gauge/api
func Mount(router *gin.Engine, configs ...Config) (*Engine, error) {
	var cfg Config
	if len(configs) > 0 {
		cfg = configs[0]
	}

	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	e.RegisterRoutes(router)
	return e, nil
}

// RegisterRoutes registers the health, live feed, Prometheus and REST
// endpoints of e on router.
func (e *Engine) RegisterRoutes(router *gin.Engine) {
	// Public
	registerHealthRoutes(router, e)
	registerWebSocketRoute(router, e)
	if e.config.Prometheus.Enabled {
		registerPrometheusRoute(router, e)
	}

	// Authenticated
	registerAPIRoutes(router, e)

	e.logger.Printf("mounted at %s (retention %s)", e.config.Prefix, e.store.Retention())
}
