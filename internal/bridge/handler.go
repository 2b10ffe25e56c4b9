package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gezibash/arc-contacts/internal/contacts"
	"github.com/gezibash/arc-contacts/internal/directory"
	"github.com/gezibash/arc-contacts/internal/directory/cel"
)

// DefaultLimit is the page size used when a request names none.
const DefaultLimit = 50

// PageResponse is the body of a page of contacts.
type PageResponse struct {
	Contacts []*contacts.Contact `json:"contacts"`
	Offset   int                 `json:"offset"`
	Limit    int                 `json:"limit"`
}

// LookupRequest asks for contacts by id.
type LookupRequest struct {
	IDs    []contacts.ID `json:"ids" binding:"required"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// FilterRequest sets the active name filter. A null or absent match clears it.
type FilterRequest struct {
	Match *string `json:"match"`
}

type handler struct {
	dir *directory.Directory
}

func newHandler(dir *directory.Directory) *handler {
	return &handler{dir: dir}
}

func (h *handler) register(r gin.IRouter) {
	r.GET("", h.page)
	r.POST("", h.create)
	r.POST("/lookup", h.lookup)
	r.GET("/count", h.count)
	r.PUT("/filter", h.setFilter)
	r.GET("/cache", h.cacheStats)
	r.DELETE("/cache", h.reset)
}

// page handles GET /v1/contacts?offset=&limit=&match=&where=.
func (h *handler) page(c *gin.Context) {
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	limit, err := intQuery(c, "limit", DefaultLimit)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	w := directory.Window{Offset: offset, Limit: limit, Where: c.Query("where")}
	if match, ok := c.GetQuery("match"); ok {
		w.Match = &match
	}

	cs, err := h.dir.Page(c.Request.Context(), w)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, PageResponse{Contacts: cs, Offset: offset, Limit: limit})
}

// lookup handles POST /v1/contacts/lookup.
func (h *handler) lookup(c *gin.Context) {
	var req LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	cs, err := h.dir.PageByIDs(c.Request.Context(), req.IDs, req.Offset, req.Limit)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, PageResponse{Contacts: cs, Offset: req.Offset, Limit: req.Limit})
}

// count handles GET /v1/contacts/count?match=.
func (h *handler) count(c *gin.Context) {
	var match *string
	if m, ok := c.GetQuery("match"); ok {
		match = &m
	}
	n, err := h.dir.Count(c.Request.Context(), match)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// setFilter handles PUT /v1/contacts/filter.
func (h *handler) setFilter(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	h.dir.SetFilter(req.Match)
	c.Status(http.StatusNoContent)
}

// create handles POST /v1/contacts.
func (h *handler) create(c *gin.Context) {
	var contact contacts.Contact
	if err := c.ShouldBindJSON(&contact); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	id, err := h.dir.CreateContact(c.Request.Context(), &contact)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handler) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.dir.CacheStats())
}

// reset handles DELETE /v1/contacts/cache: the index and cache are dropped.
func (h *handler) reset(c *gin.Context) {
	h.dir.Reset()
	c.Status(http.StatusNoContent)
}

func (h *handler) error(c *gin.Context, err error) {
	var mutErr *directory.MutationError
	switch {
	case errors.Is(err, directory.ErrInvalidWindow),
		errors.Is(err, directory.ErrInvalidContact),
		errors.Is(err, cel.ErrInvalidExpression):
		fail(c, http.StatusBadRequest, err)
	case errors.As(err, &mutErr):
		slog.ErrorContext(c.Request.Context(), "contact write failed", "contact_id", mutErr.ContactID, "error", mutErr.Err)
		fail(c, http.StatusBadGateway, errors.New("contact store rejected the write"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, err)
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		fail(c, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}
