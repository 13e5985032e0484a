// Package feeds exposes the feed subscription operations over HTTP for the
// control plane: add, remove, enable, disable, list and placeholder preview.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/handler/http/respond"
	feedsUC "github.com/synzen/Discord.RSS/internal/usecase/feeds"
)

// Service is the subscription surface the handlers call into.
type Service interface {
	AddSource(ctx context.Context, guildID, channelID, url, userID, scheduleHint string) (*entity.FeedSource, error)
	RemoveSource(ctx context.Context, guildID, sourceID string) error
	DisableSource(ctx context.Context, guildID, sourceID string) error
	EnableSource(ctx context.Context, guildID, sourceID string) error
	GetPlaceholders(ctx context.Context, guildID, sourceID string) ([]*entity.Article, error)
}

// GuildStore reads guild configuration for the list endpoint.
type GuildStore interface {
	Get(ctx context.Context, guildID string) (*entity.GuildConfig, error)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, feedsUC.ErrBlacklisted):
		return http.StatusForbidden
	case errors.Is(err, feedsUC.ErrDuplicateSource):
		return http.StatusConflict
	case errors.Is(err, entity.ErrSourceLimit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

type AddHandler struct{ Svc Service }

func (h AddHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelID"`
		URL       string `json:"url"`
		UserID    string `json:"userID"`
		Schedule  string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ChannelID == "" || req.URL == "" {
		respond.SafeError(w, http.StatusBadRequest,
			errors.New("channelID and url required"))
		return
	}

	src, err := h.Svc.AddSource(r.Context(), r.PathValue("guildID"),
		req.ChannelID, req.URL, req.UserID, req.Schedule)
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}
	respond.JSON(w, http.StatusCreated, toDTO(src))
}

type RemoveHandler struct{ Svc Service }

func (h RemoveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.RemoveSource(r.Context(), r.PathValue("guildID"), r.PathValue("sourceID"))
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type DisableHandler struct{ Svc Service }

func (h DisableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.DisableSource(r.Context(), r.PathValue("guildID"), r.PathValue("sourceID"))
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type EnableHandler struct{ Svc Service }

func (h EnableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.EnableSource(r.Context(), r.PathValue("guildID"), r.PathValue("sourceID"))
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ListHandler struct{ Guilds GuildStore }

func (h ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	guild, err := h.Guilds.Get(r.Context(), r.PathValue("guildID"))
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}

	dtos := make([]DTO, 0, len(guild.Sources))
	for _, src := range guild.Sources {
		dtos = append(dtos, toDTO(src))
	}
	respond.JSON(w, http.StatusOK, dtos)
}

type PlaceholdersHandler struct{ Svc Service }

func (h PlaceholdersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	articles, err := h.Svc.GetPlaceholders(r.Context(), r.PathValue("guildID"), r.PathValue("sourceID"))
	if err != nil {
		respond.SafeError(w, statusFor(err), err)
		return
	}

	dtos := make([]ArticleDTO, 0, len(articles))
	for _, a := range articles {
		dtos = append(dtos, toArticleDTO(a))
	}
	respond.JSON(w, http.StatusOK, dtos)
}
