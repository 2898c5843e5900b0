package http

import (
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPageSize = 100

type HTTPServer interface {
	StartHTTPServer()
}

type HTTPServerImpl struct {
	state *state.State
}

func NewHTTPServer(st *state.State) *HTTPServerImpl {
	return &HTTPServerImpl{state: st}
}

func (hs *HTTPServerImpl) router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", requireAPISecret)
	api.GET("/transactions", hs.handleTransactions)
	api.GET("/removed", hs.handleRemoved)
	api.GET("/submissions", hs.handleSubmissions)

	return r
}

func (hs *HTTPServerImpl) StartHTTPServer() {
	r := hs.router()

	addr := ":" + config.AppConfig.HTTPPort
	log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
}

func requireAPISecret(c *gin.Context) {
	secret := config.AppConfig.APISecret
	if secret == "" {
		c.Next()
		return
	}
	if c.GetHeader("X-Api-Secret") != secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "unauthorized"})
		return
	}
	c.Next()
}

func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServerImpl) handleTransactions(c *gin.Context) {
	since, limit, ok := pageParams(c)
	if !ok {
		return
	}
	txs, err := hs.state.GetTransactionsSince(since, limit)
	if err != nil {
		log.Errorf("Failed to list transactions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": txs})
}

func (hs *HTTPServerImpl) handleRemoved(c *gin.Context) {
	since, limit, ok := pageParams(c)
	if !ok {
		return
	}
	removed, err := hs.state.GetRemovedSince(since, limit)
	if err != nil {
		log.Errorf("Failed to list removed transactions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": removed})
}

func (hs *HTTPServerImpl) handleSubmissions(c *gin.Context) {
	subs, err := hs.state.GetInflightSubmissions()
	if err != nil {
		log.Errorf("Failed to list inflight submissions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": subs})
}

// pageParams parses ?since= (unix seconds) and ?limit=; writes the error
// response itself when the input is malformed.
func pageParams(c *gin.Context) (time.Time, int, bool) {
	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid since"})
			return time.Time{}, 0, false
		}
		since = time.Unix(secs, 0)
	}
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid limit"})
			return time.Time{}, 0, false
		}
		limit = n
	}
	return since, limit, true
}
