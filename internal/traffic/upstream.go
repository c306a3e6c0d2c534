package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Catalog fetches products and params from the upstream catalog API. All
// requests carry bearer auth.
type Catalog struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewCatalog creates an upstream catalog client.
func NewCatalog(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Catalog {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Catalog{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CatalogProduct is the upstream product payload.
type CatalogProduct struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// CatalogParam is the upstream param payload.
type CatalogParam struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaignId"`
	Type        string            `json:"type"`
	PlacementID string            `json:"placementId"`
	SiloID      string            `json:"siloId"`
	Metadata    map[string]string `json:"metadata"`
}

// FetchProduct retrieves a product by its external id. Returns (nil, nil)
// when the upstream answers with a non-2xx status.
func (c *Catalog) FetchProduct(ctx context.Context, externalProductID string) (*CatalogProduct, error) {
	var payload struct {
		Product *CatalogProduct `json:"product"`
	}
	if err := c.get(ctx, "/product/"+externalProductID, &payload); err != nil {
		return nil, err
	}
	if payload.Product == nil || payload.Product.ID == "" {
		c.logger.Warn("upstream product missing id", zap.String("external_product_id", externalProductID))
		return nil, nil
	}
	return payload.Product, nil
}

// FetchParam retrieves a param by its external id. Returns (nil, nil) when
// the upstream answers with a non-2xx status.
func (c *Catalog) FetchParam(ctx context.Context, externalParamID string) (*CatalogParam, error) {
	var payload struct {
		Param *CatalogParam `json:"param"`
	}
	if err := c.get(ctx, "/param/"+externalParamID, &payload); err != nil {
		return nil, err
	}
	if payload.Param == nil || payload.Param.ID == "" {
		c.logger.Warn("upstream param missing id", zap.String("external_param_id", externalParamID))
		return nil, nil
	}
	return payload.Param, nil
}

func (c *Catalog) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("catalog request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode catalog response %s: %w", path, err)
	}
	return nil
}
