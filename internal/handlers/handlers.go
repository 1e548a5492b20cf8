package handlers

import (
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/forum"
)

// Handler combines all handler types
type Handler struct {
	Post *PostHandler
}

func NewHandler(registry *forum.Registry, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Post: NewPostHandler(registry, log),
	}
}
