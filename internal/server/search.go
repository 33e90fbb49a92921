package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/todomyday/recall/internal/retrieval/hybrid"
	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// SearchHandler exposes hybrid retrieval over notes and tasks.
type SearchHandler struct {
	Orchestrator *hybrid.Orchestrator
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/ask", h.ask)
}

type searchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	VectorWeight  *float64 `json:"vector_weight,omitempty"`
	MinSimilarity float64  `json:"min_similarity,omitempty"`
	ContentTypes  []string `json:"content_types,omitempty"`
}

type searchResponse struct {
	Results []model.SearchResult `json:"results"`
	Total   int                  `json:"total"`
}

func (h *SearchHandler) search(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return rerr.Validation("invalid request body")
	}
	results, err := h.Orchestrator.Search(c.Request().Context(), hybrid.Params{
		OwnerID:       owner,
		Query:         req.Query,
		Limit:         req.Limit,
		VectorWeight:  req.VectorWeight,
		MinSimilarity: req.MinSimilarity,
		ContentTypes:  req.ContentTypes,
	})
	if err != nil {
		return err
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	return c.JSON(http.StatusOK, searchResponse{Results: results, Total: len(results)})
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *SearchHandler) ask(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return rerr.Validation("invalid request body")
	}
	ans, err := h.Orchestrator.Ask(c.Request().Context(), owner, req.Question)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ans)
}
