package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marina-backend/api/responses"
	"github.com/angelmondragon/marina-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
)

const envHeader = "X-Marina-Env"

// Pinger is a dependency the readiness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady answers 503 naming the first dependency that fails to respond.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		for _, name := range []string{"database", "redis"} {
			dep, ok := deps[name]
			if !ok || dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
					WithDetails(map[string]any{"dependency": name}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
