package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/splitflow/splitflow/internal/models"
)

// memoryDB is the shared backing state for the in-memory repositories. It
// backs the engine when PostgreSQL is unavailable and serves as the test
// double. All access goes through the repo types below, which share one
// lock so cross-entity lookups (placement resolution) stay consistent.
type memoryDB struct {
	mu            sync.RWMutex
	campaigns     map[string]*models.Campaign
	products      map[string]*models.Product
	params        map[string]*models.Param
	distributions map[string]*models.Distribution
	impressions   map[string]*models.Impression
	clicks        map[string]*models.Click
	conversions   map[string]*models.Conversion
	analytics     map[analyticsKey]*models.Analytics

	// insertion order for deterministic orphan scans
	impressionOrder []string
}

type analyticsKey struct {
	scope      models.AnalyticsScope
	campaignID string
	productID  string
	bucket     string
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		campaigns:     make(map[string]*models.Campaign),
		products:      make(map[string]*models.Product),
		params:        make(map[string]*models.Param),
		distributions: make(map[string]*models.Distribution),
		impressions:   make(map[string]*models.Impression),
		clicks:        make(map[string]*models.Click),
		conversions:   make(map[string]*models.Conversion),
		analytics:     make(map[analyticsKey]*models.Analytics),
	}
}

// NewMemoryStore creates a Store with every repository backed by the same
// in-memory state.
func NewMemoryStore() *Store {
	db := newMemoryDB()
	return &Store{
		Campaigns:     &MemoryCampaignRepo{db: db},
		Products:      &MemoryProductRepo{db: db},
		Params:        &MemoryParamRepo{db: db},
		Distributions: &MemoryDistributionRepo{db: db},
		Events:        &MemoryEventStore{db: db},
		Analytics:     &MemoryAnalyticsRepo{db: db},
	}
}

// ---- Campaigns ----

type MemoryCampaignRepo struct {
	db *memoryDB
}

func (r *MemoryCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if c, ok := r.db.campaigns[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryCampaignRepo) findBy(match func(*models.Campaign) bool) *models.Campaign {
	for _, c := range r.db.campaigns {
		if match(c) {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (r *MemoryCampaignRepo) GetBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.findBy(func(c *models.Campaign) bool { return c.Slug == slug }), nil
}

func (r *MemoryCampaignRepo) GetByExternalID(ctx context.Context, externalCampaignID string) (*models.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.findBy(func(c *models.Campaign) bool { return c.ExternalCampaignID == externalCampaignID }), nil
}

func (r *MemoryCampaignRepo) GetByURL(ctx context.Context, url string) (*models.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.findBy(func(c *models.Campaign) bool { return c.URL == url }), nil
}

func (r *MemoryCampaignRepo) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var res []*models.Campaign
	for _, c := range r.db.campaigns {
		if c.Status == models.CampaignStatusActive {
			cp := *c
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *MemoryCampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *c
	r.db.campaigns[c.ID] = &cp
	return nil
}

func (r *MemoryCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	return r.Create(ctx, c)
}

// ---- Products ----

type MemoryProductRepo struct {
	db *memoryDB
}

func (r *MemoryProductRepo) GetByID(ctx context.Context, id string) (*models.Product, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if p, ok := r.db.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryProductRepo) GetByExternalID(ctx context.Context, externalProductID string) (*models.Product, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, p := range r.db.products {
		if p.ExternalProductID == externalProductID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryProductRepo) Create(ctx context.Context, p *models.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *p
	r.db.products[p.ID] = &cp
	return nil
}

// ---- Params ----

type MemoryParamRepo struct {
	db *memoryDB
}

func (r *MemoryParamRepo) GetByID(ctx context.Context, id string) (*models.Param, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if p, ok := r.db.params[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryParamRepo) Upsert(ctx context.Context, p *models.Param) (*models.Param, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.params {
		if existing.Type == p.Type && existing.ExternalParamID == p.ExternalParamID {
			existing.SiloID = p.SiloID
			existing.Metadata = p.Metadata
			cp := *existing
			return &cp, nil
		}
	}
	cp := *p
	r.db.params[p.ID] = &cp
	out := cp
	return &out, nil
}

// ---- Distributions ----

type MemoryDistributionRepo struct {
	db *memoryDB
}

func (r *MemoryDistributionRepo) GetByID(ctx context.Context, id string) (*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if d, ok := r.db.distributions[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryDistributionRepo) Create(ctx context.Context, d *models.Distribution) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *d
	r.db.distributions[d.ID] = &cp
	return nil
}

func (r *MemoryDistributionRepo) Update(ctx context.Context, d *models.Distribution) error {
	return r.Create(ctx, d)
}

func (r *MemoryDistributionRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.distributions, id)
	return nil
}

func (r *MemoryDistributionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if d, ok := r.db.distributions[id]; ok {
		d.UpdatedAt = at
	}
	return nil
}

func (r *MemoryDistributionRepo) ListSelectable(ctx context.Context, campaignID string, limit int) ([]*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var res []*models.Distribution
	for _, d := range r.db.distributions {
		if d.CampaignID == campaignID && d.Status == models.DistributionStatusActive && d.ProductID != "" {
			cp := *d
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Priority != res[j].Priority {
			return res[i].Priority > res[j].Priority
		}
		return res[i].ID < res[j].ID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *MemoryDistributionRepo) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var res []*models.Distribution
	for _, d := range r.db.distributions {
		if d.CampaignID == campaignID {
			cp := *d
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Priority > res[j].Priority })
	return res, nil
}

func (r *MemoryDistributionRepo) ActiveIDs(ctx context.Context, campaignID, productID string) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var ids []string
	for _, d := range r.db.distributions {
		if d.CampaignID != campaignID || d.Status != models.DistributionStatusActive {
			continue
		}
		if productID != "" && d.ProductID != productID {
			continue
		}
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryDistributionRepo) DistinctProductIDs(ctx context.Context, campaignID string) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, d := range r.db.distributions {
		if d.CampaignID != campaignID || d.ProductID == "" {
			continue
		}
		if _, ok := seen[d.ProductID]; ok {
			continue
		}
		seen[d.ProductID] = struct{}{}
		ids = append(ids, d.ProductID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryDistributionRepo) FindByCampaignProduct(ctx context.Context, campaignID, productID string) (*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, d := range r.db.distributions {
		if d.CampaignID == campaignID && d.ProductID == productID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryDistributionRepo) FindByCampaignParam(ctx context.Context, campaignID, paramID string) ([]*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var res []*models.Distribution
	for _, d := range r.db.distributions {
		if d.CampaignID == campaignID && d.ParamID == paramID {
			cp := *d
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *MemoryDistributionRepo) FindPlacement(ctx context.Context, placementID, siloID string) (*models.Distribution, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, d := range r.db.distributions {
		if d.ParamID == "" {
			continue
		}
		p, ok := r.db.params[d.ParamID]
		if !ok {
			continue
		}
		if placementID != "" && p.PlacementID != placementID {
			continue
		}
		if siloID != "" && p.SiloID != siloID {
			continue
		}
		c, ok := r.db.campaigns[d.CampaignID]
		if !ok || c.Status != models.CampaignStatusActive {
			continue
		}
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

// ---- Events ----

type MemoryEventStore struct {
	db *memoryDB
}

func (s *MemoryEventStore) CreateImpression(ctx context.Context, imp *models.Impression) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *imp
	s.db.impressions[imp.ID] = &cp
	s.db.impressionOrder = append(s.db.impressionOrder, imp.ID)
	return nil
}

func (s *MemoryEventStore) CreateClick(ctx context.Context, click *models.Click) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *click
	s.db.clicks[click.ID] = &cp
	return nil
}

func (s *MemoryEventStore) CreateConversion(ctx context.Context, conv *models.Conversion) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *conv
	s.db.conversions[conv.ID] = &cp
	return nil
}

func (s *MemoryEventStore) FindUnattributed(ctx context.Context, campaignID string, win EventWindow) (*models.Impression, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, id := range s.db.impressionOrder {
		imp := s.db.impressions[id]
		if imp == nil || imp.Attributed() {
			continue
		}
		if imp.CampaignID != campaignID {
			continue
		}
		if !win.Contains(imp.CreatedAt) {
			continue
		}
		cp := *imp
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryEventStore) AttachDistribution(ctx context.Context, impressionID, distributionID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if imp, ok := s.db.impressions[impressionID]; ok {
		imp.DistributionID = distributionID
	}
	return nil
}

func (s *MemoryEventStore) CountImpressions(ctx context.Context, f ImpressionFilter) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var n int64
	for _, imp := range s.db.impressions {
		if f.CampaignID != "" && imp.CampaignID != f.CampaignID {
			continue
		}
		if f.ProductID != "" && imp.ProductID != f.ProductID {
			continue
		}
		if !f.Window.Contains(imp.CreatedAt) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryEventStore) CountClicks(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	set := idSet(distributionIDs)
	var n int64
	for _, c := range s.db.clicks {
		if _, ok := set[c.DistributionID]; !ok {
			continue
		}
		if !win.Contains(c.CreatedAt) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryEventStore) CountDistinctClickSessions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	set := idSet(distributionIDs)
	sessions := make(map[string]struct{})
	for _, c := range s.db.clicks {
		if _, ok := set[c.DistributionID]; !ok {
			continue
		}
		if !win.Contains(c.CreatedAt) {
			continue
		}
		sessions[c.SessionID] = struct{}{}
	}
	return int64(len(sessions)), nil
}

func (s *MemoryEventStore) CountConversions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	set := idSet(distributionIDs)
	var n int64
	for _, c := range s.db.conversions {
		if _, ok := set[c.DistributionID]; !ok {
			continue
		}
		if !win.Contains(c.CreatedAt) {
			continue
		}
		n++
	}
	return n, nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ---- Analytics ----

type MemoryAnalyticsRepo struct {
	db *memoryDB
}

func (r *MemoryAnalyticsRepo) Upsert(ctx context.Context, row *models.Analytics) (*models.Analytics, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := analyticsKey{row.Scope, row.CampaignID, row.ProductID, row.Bucket}
	if existing, ok := r.db.analytics[key]; ok {
		existing.Impressions = row.Impressions
		existing.Clicks = row.Clicks
		existing.Conversions = row.Conversions
		existing.UniqueClicks = row.UniqueClicks
		existing.CTR = row.CTR
		existing.UpdatedAt = row.UpdatedAt
		cp := *existing
		return &cp, nil
	}
	cp := *row
	r.db.analytics[key] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryAnalyticsRepo) List(ctx context.Context, f AnalyticsFilter) ([]*models.Analytics, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var res []*models.Analytics
	for _, row := range r.db.analytics {
		if f.Scope != "" && row.Scope != f.Scope {
			continue
		}
		if f.CampaignID != "" && row.CampaignID != f.CampaignID {
			continue
		}
		if f.ProductID != "" && row.ProductID != f.ProductID {
			continue
		}
		if f.Bucket != "" && row.Bucket != f.Bucket {
			continue
		}
		cp := *row
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Bucket != res[j].Bucket {
			return res[i].Bucket < res[j].Bucket
		}
		if res[i].CampaignID != res[j].CampaignID {
			return res[i].CampaignID < res[j].CampaignID
		}
		return res[i].ProductID < res[j].ProductID
	})
	return res, nil
}
