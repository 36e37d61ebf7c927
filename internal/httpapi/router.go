package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/recipeworks/recipeforge/internal/common"
	"github.com/recipeworks/recipeforge/internal/config"
	"github.com/recipeworks/recipeforge/internal/httpapi/handlers"
	"github.com/recipeworks/recipeforge/internal/httpapi/middleware"
)

func NewRouter(db *gorm.DB, cfg config.Config, pub handlers.RunPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, pub)

	r.GET("/ping", h.Ping)
	r.POST("/login", h.Login)
	r.GET("/recipes/:id", h.GetRecipe)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	authGroup.POST("/workitems", h.CreateWorkItem)
	authGroup.GET("/workitems/retriable", h.ListRetriable)
	authGroup.POST("/workitems/retry-all", h.RetryAll)
	authGroup.GET("/workitems/:id", h.GetWorkItem)
	authGroup.GET("/workitems/:id/summary", h.GetResumeSummary)
	authGroup.POST("/workitems/:id/run", h.RunWorkItem)
	authGroup.POST("/workitems/:id/retry", h.RetryWorkItem)
	authGroup.GET("/workitems/:id/executions", h.ListExecutions)

	authGroup.GET("/executions/:id", h.GetExecution)
	authGroup.POST("/executions/sweep", h.SweepStaleExecutions)

	return r
}
