package catalog_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/providers/catalog"
)

// fakeHTTP serves canned JSON bodies keyed by URL
type fakeHTTP struct {
	bodies  map[string]string
	err     error
	lastURL string
}

func (f *fakeHTTP) Get(_ context.Context, url string, result interface{}) error {
	f.lastURL = url
	if f.err != nil {
		return f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return &adapter.StatusError{Code: http.StatusNotFound, Body: "not found"}
	}
	return json.Unmarshal([]byte(body), result)
}

func (f *fakeHTTP) Post(context.Context, string, string, io.Reader) ([]byte, error) {
	return nil, nil
}

func (f *fakeHTTP) Head(context.Context, string) (*http.Response, error) {
	return nil, nil
}

func newTestClient(bodies map[string]string) (catalog.Client, *fakeHTTP) {
	httpClient := &fakeHTTP{bodies: bodies}
	return catalog.NewClient(catalog.Config{BaseURL: "http://catalog.internal/"}, httpClient), httpClient
}

func TestGetItemCashPriced(t *testing.T) {
	client, httpClient := newTestClient(map[string]string{
		"http://catalog.internal/internal/catalog/tree/oak-sapling": `{
			"id": "oak-sapling",
			"type": "tree",
			"name": "Oak sapling",
			"price": "10.50",
			"tut_price": null
		}`,
	})

	item, err := client.GetItem(context.Background(), domain.ItemTypeTree, "oak-sapling")
	require.NoError(t, err)

	assert.Equal(t, "oak-sapling", item.ID)
	assert.Equal(t, domain.ItemTypeTree, item.Type)
	assert.Equal(t, "Oak sapling", item.Name)
	assert.True(t, item.Price.Equal(decimal.NewFromFloat(10.50)))
	assert.Nil(t, item.TUTPrice)

	// Trailing base URL slash is normalized away
	assert.Equal(t, "http://catalog.internal/internal/catalog/tree/oak-sapling", httpClient.lastURL)
}

func TestGetItemTokenPriced(t *testing.T) {
	client, _ := newTestClient(map[string]string{
		"http://catalog.internal/internal/catalog/product/token-badge": `{
			"id": "token-badge",
			"type": "product",
			"name": "Supporter badge",
			"price": "0",
			"tut_price": 30
		}`,
	})

	item, err := client.GetItem(context.Background(), domain.ItemTypeProduct, "token-badge")
	require.NoError(t, err)

	require.NotNil(t, item.TUTPrice)
	assert.Equal(t, int64(30), *item.TUTPrice)
}

func TestGetItemNotFound(t *testing.T) {
	client, _ := newTestClient(nil)

	_, err := client.GetItem(context.Background(), domain.ItemTypeTree, "no-such-item")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestGetItemServerErrorIsNotNotFound(t *testing.T) {
	client, _ := newTestClient(nil)
	httpClient := &fakeHTTP{err: &adapter.StatusError{Code: http.StatusInternalServerError, Body: "boom"}}
	client = catalog.NewClient(catalog.Config{BaseURL: "http://catalog.internal"}, httpClient)

	_, err := client.GetItem(context.Background(), domain.ItemTypeTree, "oak-sapling")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrItemNotFound)
}

func TestGetItemEscapesPathSegments(t *testing.T) {
	client, httpClient := newTestClient(nil)

	_, _ = client.GetItem(context.Background(), domain.ItemTypeProduct, "odd/item id")
	assert.Equal(t, "http://catalog.internal/internal/catalog/product/odd%2Fitem%20id", httpClient.lastURL)
}
