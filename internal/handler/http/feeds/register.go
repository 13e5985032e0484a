package feeds

import "net/http"

// Register mounts the subscription endpoints on the given mux.
func Register(mux *http.ServeMux, svc Service, guilds GuildStore) {
	mux.Handle("GET /guilds/{guildID}/feeds", ListHandler{guilds})
	mux.Handle("POST /guilds/{guildID}/feeds", AddHandler{svc})
	mux.Handle("DELETE /guilds/{guildID}/feeds/{sourceID}", RemoveHandler{svc})
	mux.Handle("POST /guilds/{guildID}/feeds/{sourceID}/disable", DisableHandler{svc})
	mux.Handle("POST /guilds/{guildID}/feeds/{sourceID}/enable", EnableHandler{svc})
	mux.Handle("GET /guilds/{guildID}/feeds/{sourceID}/placeholders", PlaceholdersHandler{svc})
}
