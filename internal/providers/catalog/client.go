package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
)

// Config holds the configuration for the catalog service client
type Config struct {
	BaseURL string
}

// Client resolves order lines against the marketplace catalog service
//
//go:generate mockgen -source=client.go -destination=../../mocks/catalog.go -package=mocks -mock_names=Client=MockCatalogClient
type Client interface {
	// GetItem fetches the pricing view of a catalog item.
	// Fails with domain.ErrItemNotFound when the catalog has no such item.
	GetItem(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.CatalogItem, error)
}

type client struct {
	baseURL string
	http    adapter.HTTPClient
}

// NewClient creates a new catalog service client
func NewClient(cfg Config, httpClient adapter.HTTPClient) Client {
	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}
}

type itemResponse struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	TUTPrice *int64          `json:"tut_price"`
}

// GetItem fetches the pricing view of a catalog item
func (c *client) GetItem(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.CatalogItem, error) {
	endpoint := fmt.Sprintf("%s/internal/catalog/%s/%s",
		c.baseURL, url.PathEscape(string(itemType)), url.PathEscape(itemID))

	var resp itemResponse
	if err := c.http.Get(ctx, endpoint, &resp); err != nil {
		var statusErr *adapter.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrItemNotFound, itemType, itemID)
		}
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}

	return &domain.CatalogItem{
		ID:       resp.ID,
		Type:     domain.ItemType(resp.Type),
		Name:     resp.Name,
		Price:    resp.Price,
		TUTPrice: resp.TUTPrice,
	}, nil
}
