package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/catalog"
	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
)

// CatalogLister reads public catalog pages. *catalog.Client implements it.
type CatalogLister interface {
	List(ctx context.Context, cursor string) (*catalog.Page, error)
}

// CatalogHandler serves the public oil list without a session.
type CatalogHandler struct {
	catalog CatalogLister
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(c CatalogLister) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// List serves GET /public/oil?cursor=.
func (h *CatalogHandler) List(c *gin.Context) {
	page, err := h.catalog.List(c.Request.Context(), c.Query("cursor"))
	if err == nil {
		c.JSON(http.StatusOK, page)
		return
	}

	log := middleware.Logger(c)
	var statusErr *catalog.StatusError
	switch {
	case errors.As(err, &statusErr):
		log.Warn("catalog backend error", slog.Int("status", statusErr.Status))
		c.JSON(http.StatusBadGateway, gin.H{"error": statusErr.Error()})
		return
	case errors.Is(err, apperr.ErrBackendUnavailable):
		log.Warn("catalog backend unavailable", slog.String("error", err.Error()))
	default:
		log.Error("catalog request failed", slog.String("error", err.Error()))
	}
	c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
}
