// Package control exposes operator lifecycle commands over HTTP: stopping or
// killing the fleet, forcing a schedule cycle on one shard, and refreshing a
// shard's entitlement cache. Commands are accepted and relayed; the shards
// apply them asynchronously.
package control

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/synzen/Discord.RSS/internal/coordinator"
	"github.com/synzen/Discord.RSS/internal/handler/http/respond"
)

// Commander issues operator commands to the local process and the rest of
// the fleet.
type Commander interface {
	Command(ctx context.Context, kind coordinator.Kind, payload any) error
}

type StopHandler struct{ Cmd Commander }

func (h StopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Cmd.Command(r.Context(), coordinator.KindStop, nil); err != nil {
		respond.SafeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type KillHandler struct{ Cmd Commander }

func (h KillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Cmd.Command(r.Context(), coordinator.KindKill, nil); err != nil {
		respond.SafeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type RunScheduleHandler struct{ Cmd Commander }

func (h RunScheduleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(r.PathValue("shardID"))
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("shardID must be an integer"))
		return
	}
	schedule := r.PathValue("schedule")
	if schedule == "" {
		respond.SafeError(w, http.StatusBadRequest, errors.New("schedule required"))
		return
	}

	payload := coordinator.RunSchedulePayload{ShardID: shardID, ScheduleName: schedule}
	if err := h.Cmd.Command(r.Context(), coordinator.KindRunSchedule, payload); err != nil {
		respond.SafeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type CycleEntitlementsHandler struct{ Cmd Commander }

func (h CycleEntitlementsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	shardID, err := strconv.Atoi(r.PathValue("shardID"))
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("shardID must be an integer"))
		return
	}

	payload := coordinator.ShardPayload{ShardID: shardID}
	if err := h.Cmd.Command(r.Context(), coordinator.KindCycleEntitlements, payload); err != nil {
		respond.SafeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
