package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cite-guard/config"
	"cite-guard/models"
	"cite-guard/providers"
	"cite-guard/services"
	"cite-guard/storage"
)

// pmidLookup liefert den Datensatz zu einer PMID (bei PubMed über den DOI kaskadiert).
type pmidLookup func(ctx context.Context, pmid string) (*models.Record, error)

// server bündelt die Abhängigkeiten der Routen.
type server struct {
	store      storage.CitationStore
	ingestor   *services.Ingestor
	checkpoint *services.Checkpoint
	pending    *services.PendingUpgrades
	exporter   *services.Exporter
	doi        providers.Registry
	lookupPMID pmidLookup
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func setupRouter(cfg *config.Config, srv *server, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupCitationRoutes(router, srv.store, srv.ingestor, log)
	setupCheckpointRoutes(router, srv.store, srv.checkpoint, srv.pending, log)
	setupExportRoutes(router, srv.exporter, log)
	setupRegistryRoutes(router, srv.doi, srv.lookupPMID, log)
	return router
}

func setupCitationRoutes(router *gin.Engine, store storage.CitationStore, ingestor *services.Ingestor, log *zap.Logger) {
	rg := router.Group("/projects/:projectId")

	// POST - Generator-Fragment einlesen
	rg.POST("/ingest", func(c *gin.Context) {
		var request struct {
			Fragment string `json:"fragment" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'fragment' field is required."})
			return
		}

		projectID := c.Param("projectId")
		log.Info("Starting ingestion", zap.String("project_id", projectID), zap.Int("fragment_length", len(request.Fragment)))
		summary, err := ingestor.Ingest(c.Request.Context(), projectID, request.Fragment)
		if err != nil {
			log.Error("Ingestion failed", zap.String("project_id", projectID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	rg.GET("/citations", func(c *gin.Context) {
		rows, err := store.ListByProject(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			log.Error("Failed to list citations", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if tier := strings.ToUpper(c.Query("tier")); tier != "" {
			if !models.ProvenanceTier(tier).Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
				return
			}
			filtered := rows[:0]
			for _, r := range rows {
				if string(r.ProvenanceTier) == tier {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
		if rows == nil {
			rows = []models.Citation{}
		}
		c.JSON(http.StatusOK, rows)
	})

	// POST - Manuelle Bestätigung durch einen Menschen; sperrt die Zeile für die Automatik
	rg.POST("/citations/:citeKey/attest", func(c *gin.Context) {
		var request struct {
			AttestedBy string `json:"attested_by" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'attested_by' field is required."})
			return
		}
		row, err := store.Attest(c.Request.Context(), c.Param("projectId"), c.Param("citeKey"), request.AttestedBy, time.Now())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "citation not found"})
				return
			}
			log.Error("Attestation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		log.Info("Citation attested",
			zap.String("project_id", row.ProjectID), zap.String("cite_key", row.CiteKey), zap.String("by", request.AttestedBy))
		c.JSON(http.StatusOK, row)
	})
}

type checkpointResult struct {
	report *models.VerificationReport
	err    error
}

func setupCheckpointRoutes(router *gin.Engine, store storage.CitationStore, checkpoint *services.Checkpoint, pending *services.PendingUpgrades, log *zap.Logger) {
	rg := router.Group("/projects/:projectId/checkpoint")

	// POST - Prüflauf als SSE-Stream: "progress"-Events, am Ende ein "report"
	rg.POST("", func(c *gin.Context) {
		projectID := c.Param("projectId")
		events := make(chan models.ProgressEvent, 256)
		done := make(chan checkpointResult, 1)

		go func() {
			report, err := checkpoint.Run(c.Request.Context(), projectID, func(e models.ProgressEvent) {
				select {
				case events <- e:
				default:
				}
			})
			done <- checkpointResult{report: report, err: err}
		}()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Stream(func(w io.Writer) bool {
			select {
			case e := <-events:
				c.SSEvent("progress", e)
				return true
			case res := <-done:
				for len(events) > 0 {
					c.SSEvent("progress", <-events)
				}
				if res.err != nil {
					log.Error("Checkpoint failed", zap.String("project_id", projectID), zap.Error(res.err))
					c.SSEvent("error", gin.H{"error": "checkpoint failed"})
					return false
				}
				c.SSEvent("report", res.report)
				return false
			}
		})
	})

	// POST - Vom Nutzer bestätigte Upgrades eines Laufs übernehmen
	rg.POST("/apply", func(c *gin.Context) {
		var request struct {
			RunID    string   `json:"run_id" binding:"required"`
			CiteKeys []string `json:"cite_keys"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'run_id' field is required."})
			return
		}
		summary, err := services.ApplyUpgrades(c.Request.Context(), store, pending, c.Param("projectId"), request.RunID, request.CiteKeys, time.Now(), log)
		if err != nil {
			if errors.Is(err, services.ErrUnknownRun) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Error("Applying upgrades failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func setupExportRoutes(router *gin.Engine, exporter *services.Exporter, log *zap.Logger) {
	router.POST("/projects/:projectId/export", func(c *gin.Context) {
		result, err := exporter.Export(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			log.Error("Export failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupRegistryRoutes(router *gin.Engine, doi providers.Registry, lookupPMID pmidLookup, log *zap.Logger) {
	rg := router.Group("/registries")

	rg.GET("/doi/*doi", func(c *gin.Context) {
		id := providers.NormalizeDOI(strings.TrimPrefix(c.Param("doi"), "/"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doi"})
			return
		}
		rec, err := doi.LookupByID(c.Request.Context(), id)
		respondRecord(c, rec, err, log)
	})

	rg.GET("/pmid/:pmid", func(c *gin.Context) {
		id := providers.NormalizePMID(c.Param("pmid"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pmid"})
			return
		}
		rec, err := lookupPMID(c.Request.Context(), id)
		respondRecord(c, rec, err, log)
	})
}

func respondRecord(c *gin.Context, rec *models.Record, err error, log *zap.Logger) {
	if err != nil {
		log.Warn("Registry lookup failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "registry unavailable"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "bibtex": rec.Bibtex})
}
