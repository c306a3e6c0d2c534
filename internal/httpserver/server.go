package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/analytics"
	"github.com/splitflow/splitflow/internal/config"
	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/middleware"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/session"
	"github.com/splitflow/splitflow/internal/storage"
	"github.com/splitflow/splitflow/internal/traffic"
)

// Dependencies holds all wired services for the server.
type Dependencies struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Session       *session.Provider
	Resolver      *traffic.Resolver
	Attributor    *traffic.Attributor
	Campaigns     *traffic.CampaignService
	Distributions *traffic.DistributionService
	Analytics     *analytics.Service
	Health        func(ctx context.Context) error
}

// Server wraps the HTTP handlers over the traffic services.
type Server struct {
	config        *config.Config
	logger        *zap.Logger
	metrics       *metrics.Metrics
	session       *session.Provider
	resolver      *traffic.Resolver
	attributor    *traffic.Attributor
	campaigns     *traffic.CampaignService
	distributions *traffic.DistributionService
	analytics     *analytics.Service
	health        func(ctx context.Context) error
}

// transparent 1x1 GIF for the impression pixel.
var pixelGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///ywAAAAAAQABAAACAUwAOw==")

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		config:        deps.Config,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		session:       deps.Session,
		resolver:      deps.Resolver,
		attributor:    deps.Attributor,
		campaigns:     deps.Campaigns,
		distributions: deps.Distributions,
		analytics:     deps.Analytics,
		health:        deps.Health,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking surface
	r.Get("/i", s.handlePixel)
	r.Get("/place", s.handlePlace)
	r.Get("/events/s2s/conversion", s.handleConversion)

	// Campaign management
	r.Route("/campaign", func(r chi.Router) {
		r.Get("/", s.handleListCampaigns)
		r.Post("/", s.handleCreateCampaign)
		r.Get("/{externalCampaignID}", s.handleGetCampaign)
		r.Patch("/{externalCampaignID}", s.handleUpdateCampaign)
		r.Post("/{externalCampaignID}/publish", s.handlePublish)
		r.Get("/{externalCampaignID}/distributions", s.handleCampaignDistributions)
	})

	// Distribution management
	r.Route("/distribution", func(r chi.Router) {
		r.Post("/", s.handleCreateDistribution)
		r.Post("/from-campaign-product", s.handleFromCampaignProduct)
		r.Post("/from-campaign-param", s.handleFromCampaignParam)
		r.Get("/{id}", s.handleGetDistribution)
		r.Patch("/{id}", s.handleUpdateDistribution)
		r.Delete("/{id}", s.handleDeleteDistribution)
	})

	// Analytics query
	r.Get("/analytics", s.handleAnalytics)

	// Redirect (wildcard, registered last)
	r.Get("/{slug}", s.handleRedirect)

	return r
}

// ---- Health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.errorResponse(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// ---- Redirect ----

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	slug := chi.URLParam(r, "slug")
	sess := s.session.Resolve(w, r)

	res, err := s.resolver.Resolve(r.Context(), slug)
	if err != nil {
		outcome := "error"
		status := http.StatusInternalServerError
		if isNotFound(err) {
			outcome = "not_found"
			status = http.StatusNotFound
		} else {
			s.logger.Error("redirect resolution failed", zap.String("slug", slug), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordRedirect(outcome, time.Since(start))
		}
		s.errorResponse(w, err.Error(), status)
		return
	}

	http.Redirect(w, r, res.URL, http.StatusFound)
	if s.metrics != nil {
		s.metrics.RecordRedirect("ok", time.Since(start))
	}

	// Attribution happens off the request path; the visitor never waits on
	// event writes.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.attributor.Attribute(ctx, res, sess)
	}()
}

// ---- Impression pixel ----

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("campaign")
	if slug == "" {
		s.errorResponse(w, "campaign is required", http.StatusBadRequest)
		return
	}
	sess := s.session.Resolve(w, r)

	imp, err := s.attributor.RecordImpression(r.Context(), slug, sess)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("impression tracking failed", zap.String("slug", slug), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("recorded impression",
		zap.String("impression_id", imp.ID),
		zap.String("campaign", slug),
	)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(pixelGIF)
}

// ---- Placement lookup ----

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	placementID := r.URL.Query().Get("placementId")
	siloID := r.URL.Query().Get("siloId")

	d, err := s.distributions.FindPlacement(r.Context(), placementID, siloID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, d)
}

// ---- Conversion postback ----

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	distributionID := r.URL.Query().Get("distribution_id")
	if distributionID == "" {
		s.errorResponse(w, "distribution_id is required", http.StatusBadRequest)
		return
	}

	conv, err := s.attributor.RecordConversion(r.Context(), distributionID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, conv)
}

// ---- Campaign management ----

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.ListActive(r.Context())
	if err != nil {
		s.errorResponse(w, "failed to list", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, campaigns)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	externalCampaignID := chi.URLParam(r, "externalCampaignID")
	campaign, err := s.campaigns.GetByExternalID(r.Context(), externalCampaignID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, campaign)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := s.campaigns.Create(r.Context(), &c)
	if err != nil {
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, created)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	externalCampaignID := chi.URLParam(r, "externalCampaignID")
	existing, err := s.campaigns.GetByExternalID(r.Context(), externalCampaignID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	c.ID = existing.ID
	c.ExternalCampaignID = existing.ExternalCampaignID
	if c.Slug == "" {
		c.Slug = existing.Slug
	}
	if c.URL == "" {
		c.URL = existing.URL
	}
	if c.Status == "" {
		c.Status = existing.Status
	}

	updated, err := s.campaigns.Update(r.Context(), &c)
	if err != nil {
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, updated)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	externalCampaignID := chi.URLParam(r, "externalCampaignID")

	var body struct {
		Products []string `json:"products"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	result, err := s.distributions.Publish(r.Context(), externalCampaignID, body.Products)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, result)
}

func (s *Server) handleCampaignDistributions(w http.ResponseWriter, r *http.Request) {
	externalCampaignID := chi.URLParam(r, "externalCampaignID")
	campaign, err := s.campaigns.GetByExternalID(r.Context(), externalCampaignID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	list, err := s.distributions.ListByCampaign(r.Context(), campaign.ID)
	if err != nil {
		s.errorResponse(w, "failed to list", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

// ---- Distribution management ----

func (s *Server) handleCreateDistribution(w http.ResponseWriter, r *http.Request) {
	var d models.Distribution
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := s.distributions.Create(r.Context(), &d)
	if err != nil {
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, created)
}

func (s *Server) handleFromCampaignProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExternalCampaignID string `json:"external_campaign_id"`
		ExternalProductID  string `json:"external_product_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	d, err := s.distributions.FromCampaignProduct(r.Context(), body.ExternalCampaignID, body.ExternalProductID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, d)
}

func (s *Server) handleFromCampaignParam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExternalCampaignID string `json:"external_campaign_id"`
		ExternalParamID    string `json:"external_param_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	list, err := s.distributions.FromCampaignParam(r.Context(), body.ExternalCampaignID, body.ExternalParamID)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, list)
}

func (s *Server) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	d, err := s.distributions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, d)
}

func (s *Server) handleUpdateDistribution(w http.ResponseWriter, r *http.Request) {
	var d models.Distribution
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	d.ID = chi.URLParam(r, "id")

	updated, err := s.distributions.Update(r.Context(), &d)
	if err != nil {
		if isNotFound(err) {
			s.errorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, updated)
}

func (s *Server) handleDeleteDistribution(w http.ResponseWriter, r *http.Request) {
	if err := s.distributions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.errorResponse(w, "failed to delete", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// ---- Analytics query ----

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.analytics.List(r.Context(), storage.AnalyticsFilter{
		Scope:      models.AnalyticsScope(q.Get("scope")),
		CampaignID: q.Get("campaign_id"),
		ProductID:  q.Get("product_id"),
		Bucket:     q.Get("bucket"),
	})
	if err != nil {
		s.errorResponse(w, "failed to list", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []*models.Analytics{}
	}
	s.jsonResponse(w, rows)
}

// ---- Helpers ----

func isNotFound(err error) bool {
	return errors.Is(err, traffic.ErrCampaignNotFound) ||
		errors.Is(err, traffic.ErrProductNotFound) ||
		errors.Is(err, traffic.ErrParamNotFound) ||
		errors.Is(err, traffic.ErrDistributionNotFound) ||
		errors.Is(err, traffic.ErrNoDistributions) ||
		errors.Is(err, traffic.ErrPlacementNotFound)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
