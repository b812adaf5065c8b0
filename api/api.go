// Package api exposes the control surface of the gateway over HTTP.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/bootstrap"
	"github.com/papernet/papergw/bridge"
	"github.com/papernet/papergw/cache"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/gateway"
	"github.com/papernet/papergw/middleware/admission"
	"github.com/papernet/papergw/source"
)

// API type
type API struct {
	addr      string
	cfg       *config.Config
	admission *admission.Admission
	registry  *source.Registry
	orch      *bootstrap.Orchestrator
	slot      *agent.Slot
	bridge    *bridge.Bridge
	cache     *cache.Cache
}

// New return new api
func New(cfg *config.Config, adm *admission.Admission, reg *source.Registry,
	orch *bootstrap.Orchestrator, slot *agent.Slot, b *bridge.Bridge, c *cache.Cache) *API {
	return &API{
		addr:      cfg.API,
		cfg:       cfg,
		admission: adm,
		registry:  reg,
		orch:      orch,
		slot:      slot,
		bridge:    b,
		cache:     c,
	}
}

func (a *API) existsBlock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exists": a.admission.Blocked(c.Param("key"))})
}

func (a *API) setBlock(c *gin.Context) {
	a.admission.BlockIP(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) removeBlock(c *gin.Context) {
	a.admission.UnblockIP(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) reputation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"score": a.admission.Reputation(c.Param("key"))})
}

func (a *API) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": a.registry.ListAll()})
}

func (a *API) addSource(c *gin.Context) {
	var src source.Source
	if err := c.ShouldBindJSON(&src); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.registry.AddSource(src); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) enableSource(c *gin.Context) {
	ok := a.registry.UpdateSource(c.Param("id"), func(s *source.Source) { s.Enabled = true })
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": c.Param("id") + " not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) disableSource(c *gin.Context) {
	ok := a.registry.UpdateSource(c.Param("id"), func(s *source.Source) { s.Enabled = false })
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": c.Param("id") + " not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) runBootstrap(c *gin.Context) {
	res, err := a.orch.Bootstrap(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if err == bootstrap.ErrInProgress {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"source":  res.Source.ID,
		"latency": res.Latency.String(),
	})
}

func (a *API) bootstrapStats(c *gin.Context) {
	stats := a.orch.Stats()
	c.JSON(http.StatusOK, gin.H{
		"total_attempts":     stats.TotalAttempts,
		"successful_sources": stats.SuccessfulSources,
		"failed_sources":     stats.FailedSources,
		"average_latency":    stats.AverageLatency.String(),
		"last_run_duration":  stats.LastRunDuration.String(),
	})
}

func (a *API) status(c *gin.Context) {
	state := "installed"
	if ag := a.slot.Active(); ag != nil {
		state = "active"
	}

	c.JSON(http.StatusOK, gin.H{
		"agent":           state,
		"resolver":        a.bridge.Attached(),
		"pending_replies": a.bridge.Pending(),
		"cache_entries":   a.cache.Len(),
	})
}

func (a *API) purgeCache(c *gin.Context) {
	a.cache.Purge()

	if ag := a.slot.Active(); ag != nil {
		ag.Deliver(gateway.Message{Type: gateway.MsgClearCache, ID: gateway.NewID()})
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// exportCache persists the live agent cache so the next start can seed from
// disk instead of refetching.
func (a *API) exportCache(c *gin.Context) {
	ag := a.slot.Active()
	if ag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent not active"})
		return
	}

	n, err := ag.ExportCache()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "entries": n})
}

func (a *API) registerDomain(c *gin.Context) {
	ag := a.slot.Active()
	if ag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent not active"})
		return
	}

	domain := gateway.CanonicalDomain(c.Param("domain"))
	if err := ag.Members().RegisterDomain(domain); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) listDomains(c *gin.Context) {
	ag := a.slot.Active()
	if ag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent not active"})
		return
	}

	domains, tlds := ag.Members().Snapshot()
	c.JSON(http.StatusOK, gin.H{"domains": domains, "tlds": tlds})
}

func (a *API) metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// proxyPAC serves a proxy auto-config that sends namespace traffic through
// the gateway and leaves everything else direct.
func (a *API) proxyPAC(c *gin.Context) {
	pac := fmt.Sprintf(`function FindProxyForURL(url, host) {
	if (dnsDomainIs(host, ".%s") || host === "%s") {
		return "PROXY %s";
	}
	return "DIRECT";
}
`, a.cfg.ReservedTLD, a.cfg.ReservedTLD, a.cfg.Bind)

	c.Data(http.StatusOK, "application/x-ns-proxy-autoconfig", []byte(pac))
}

// Router builds the route tree. Split out so tests can drive it without a
// listener.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	v1 := r.Group("/api/v1")
	{
		block := v1.Group("/block")
		{
			block.GET("/exists/:key", a.existsBlock)
			block.GET("/set/:key", a.setBlock)
			block.GET("/remove/:key", a.removeBlock)
			block.GET("/reputation/:key", a.reputation)
		}

		sources := v1.Group("/sources")
		{
			sources.GET("", a.listSources)
			sources.POST("", a.addSource)
			sources.GET("/enable/:id", a.enableSource)
			sources.GET("/disable/:id", a.disableSource)
		}

		v1.GET("/bootstrap", a.runBootstrap)
		v1.GET("/bootstrap/stats", a.bootstrapStats)
		v1.GET("/status", a.status)
		v1.GET("/cache/purge", a.purgeCache)
		v1.GET("/cache/export", a.exportCache)
		v1.GET("/domains", a.listDomains)
		v1.GET("/domains/register/:domain", a.registerDomain)
	}

	r.GET("/control", a.control)
	r.GET("/metrics", a.metrics)
	r.GET("/proxy.pac", a.proxyPAC)

	return r
}

// Run API server
func (a *API) Run() {
	if a.addr == "" {
		return
	}

	r := a.Router()

	zlog.Info("API server listening...", "addr", a.addr)

	srv := &http.Server{
		Addr:         a.addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("API listener failed", "addr", a.addr, "error", err.Error())
		}
	}()
}
