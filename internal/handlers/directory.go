package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/estatedir/internal/directory"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/pkg/errors"
	"github.com/charlesng35/estatedir/pkg/response"
)

// DirectoryService is the read side of the directory.
type DirectoryService interface {
	Companies(ctx context.Context, refresh bool) (directory.Result[models.Company], error)
	Projects(ctx context.Context, refresh bool) (directory.Result[models.Project], error)
	Places(ctx context.Context, refresh bool) (directory.Result[models.Place], error)
	Company(ctx context.Context, id string, refresh bool) (models.Company, directory.Result[models.Company], error)
	Project(ctx context.Context, id string, refresh bool) (models.Project, directory.Result[models.Project], error)
	CompanyProjects(ctx context.Context, companyID string, refresh bool) (directory.Result[models.Project], error)
	ClearCache(ctx context.Context) (int, error)
}

// Broadcaster publishes realtime events.
type Broadcaster interface {
	BroadcastStream(stream string, message realtime.Message)
}

// DirectoryHandler exposes companies, projects and places.
type DirectoryHandler struct {
	svc DirectoryService
	hub Broadcaster
}

// NewDirectoryHandler builds a handler; hub may be nil.
func NewDirectoryHandler(svc DirectoryService, hub Broadcaster) *DirectoryHandler {
	return &DirectoryHandler{svc: svc, hub: hub}
}

// GET /api/companies
func (h *DirectoryHandler) ListCompanies(c *gin.Context) {
	res, err := h.svc.Companies(requestContext(c), parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	h.refreshed(c, "companies")
	respondList(c, filterActive(c, res.Items, models.Company.IsActive), res)
}

// GET /api/companies/:id
func (h *DirectoryHandler) GetCompany(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	company, res, err := h.svc.Company(requestContext(c), id, parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	respondItem(c, company, res)
}

// GET /api/companies/:id/projects
func (h *DirectoryHandler) ListCompanyProjects(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.CompanyProjects(requestContext(c), id, parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	respondList(c, filterActive(c, res.Items, models.Project.IsActive), res)
}

// GET /api/projects
func (h *DirectoryHandler) ListProjects(c *gin.Context) {
	res, err := h.svc.Projects(requestContext(c), parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	h.refreshed(c, "projects")
	respondList(c, filterActive(c, res.Items, models.Project.IsActive), res)
}

// GET /api/projects/:id
func (h *DirectoryHandler) GetProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	project, res, err := h.svc.Project(requestContext(c), id, parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	respondItem(c, project, res)
}

// GET /api/places
func (h *DirectoryHandler) ListPlaces(c *gin.Context) {
	res, err := h.svc.Places(requestContext(c), parseBoolQuery(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	h.refreshed(c, "places")
	respondList(c, filterActive(c, res.Items, models.Place.IsActive), res)
}

// POST /api/cache/clear
func (h *DirectoryHandler) ClearCache(c *gin.Context) {
	cleared, err := h.svc.ClearCache(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	if h.hub != nil {
		h.hub.BroadcastStream(realtime.StreamDirectory, realtime.Message{
			Event: realtime.EventCleared,
			Data:  gin.H{"cleared": cleared},
		})
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": cleared})
}

// refreshed tells directory subscribers that a sheet was re-read on request.
func (h *DirectoryHandler) refreshed(c *gin.Context, sheet string) {
	if h.hub == nil || !parseBoolQuery(c, "refresh") {
		return
	}
	h.hub.BroadcastStream(realtime.StreamDirectory, realtime.Message{
		Event: realtime.EventRefreshed,
		Data:  gin.H{"sheet": sheet},
	})
}

func pathID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, errors.NewBadRequest("id is required"))
		return "", false
	}
	return id, true
}

// filterActive keeps active rows when the active query flag is set.
func filterActive[T any](c *gin.Context, items []T, active func(T) bool) []T {
	if !parseBoolQuery(c, "active") {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if active(item) {
			out = append(out, item)
		}
	}
	return out
}

func respondList[T any](c *gin.Context, items []T, res directory.Result[T]) {
	if items == nil {
		items = []T{}
	}
	response.SuccessWithMeta(c, http.StatusOK, items, resultMeta(len(items), res))
}

func respondItem[T any](c *gin.Context, item T, res directory.Result[T]) {
	response.SuccessWithMeta(c, http.StatusOK, item, resultMeta(1, res))
}

func resultMeta[T any](total int, res directory.Result[T]) *response.Meta {
	meta := &response.Meta{Total: total, Source: res.Source, Stale: res.Stale}
	if !res.FetchedAt.IsZero() {
		fetched := res.FetchedAt.UTC().Truncate(time.Millisecond)
		meta.FetchedAt = &fetched
	}
	return meta
}
