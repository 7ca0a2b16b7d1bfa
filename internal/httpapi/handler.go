package httpapi

import (
	"net/http"

	"boostplane/pkg/db/pagination"
	"boostplane/pkg/health"
	"boostplane/pkg/middleware"
	"boostplane/services/boost"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
	),
)

// Handler exposes the boost service over HTTP. The surface is deliberately
// thin: bind, delegate, translate errors through the error middleware.
type Handler struct {
	boosts *boost.Service
}

type HandlerParams struct {
	fx.In
	Boosts *boost.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{boosts: p.Boosts}
}

func ProvideRouter(h *Handler, hc health.HealthService) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", hc.Liveness)
	r.GET("/readyz", hc.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/boosts", h.CreateBoost)
		v1.GET("/boosts", h.ListBoosts)
		v1.GET("/boosts/:boost_id", h.GetBoost)
		v1.POST("/boosts/:boost_id/messages", h.AlterBoost)
		v1.DELETE("/boosts/:boost_id", h.DeactivateBoost)
		v1.POST("/boosts/:boost_id/game", h.ProcessGameResponse)
		v1.POST("/events", h.ProcessEvent)
	}

	return r
}

func (h *Handler) CreateBoost(c *gin.Context) {
	var params boost.CreateBoostParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.boosts.CreateBoost(c.Request.Context(), params)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBoosts(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	boosts, info, err := h.boosts.ListBoosts(c.Request.Context(), c.Query("client_id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boosts": boosts, "page_info": info})
}

func (h *Handler) GetBoost(c *gin.Context) {
	b, err := h.boosts.GetBoost(c.Request.Context(), c.Param("boost_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) AlterBoost(c *gin.Context) {
	var body struct {
		MessageInstructions []boost.MessageInstruction `json:"messageInstructions"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.boosts.AlterBoost(c.Request.Context(), c.Param("boost_id"), body.MessageInstructions)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) DeactivateBoost(c *gin.Context) {
	if err := h.boosts.DeactivateBoost(c.Request.Context(), c.Param("boost_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ProcessGameResponse(c *gin.Context) {
	var body struct {
		AccountID string                    `json:"accountId"`
		Response  boost.GameResponsePayload `json:"response"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.boosts.ProcessGameResponse(c.Request.Context(), c.Param("boost_id"), body.AccountID, body.Response); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) ProcessEvent(c *gin.Context) {
	var ev boost.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.boosts.ProcessEvent(c.Request.Context(), ev)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
