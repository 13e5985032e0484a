package control

import "net/http"

// Register mounts the operator command endpoints on the given mux.
func Register(mux *http.ServeMux, cmd Commander) {
	mux.Handle("POST /control/stop", StopHandler{cmd})
	mux.Handle("POST /control/kill", KillHandler{cmd})
	mux.Handle("POST /control/shards/{shardID}/run/{schedule}", RunScheduleHandler{cmd})
	mux.Handle("POST /control/shards/{shardID}/cycle-entitlements", CycleEntitlementsHandler{cmd})
}
