package sapclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/config"
	"sapassist/pkg/saperr"
)

func newDemoClient() *Client {
	return New(&config.SAPConfig{
		BaseURL:        "https://demo.invalid/b1s/v1",
		CompanyDB:      "SBODEMOFR",
		Username:       "manager",
		DemoMode:       true,
		SessionTTL:     25 * time.Minute,
		RequestTimeout: 5 * time.Second,
		CacheTTL:       time.Minute,
	}, "")
}

func TestDemoGetAll(t *testing.T) {
	c := newDemoClient()
	result, err := c.Get(context.Background(), "/Orders")
	require.NoError(t, err)
	assert.Len(t, result.Records, 4)
	assert.False(t, result.HasCount)
}

func TestDemoGetFilters(t *testing.T) {
	c := newDemoClient()

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"open orders", "/Orders?$filter=DocumentStatus eq bost_Open", 3},
		{"closed orders", "/Orders?$filter=DocumentStatus eq bost_Close", 1},
		{"by customer name", "/Orders?$filter=contains(CardName,'maxi')", 2},
		{"by docnum", "/Orders?$filter=DocNum eq 10001", 1},
		{"docnum no match", "/Orders?$filter=DocNum eq 99999", 0},
		{"top applies", "/Orders?$top=2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.Get(context.Background(), tt.url)
			require.NoError(t, err)
			assert.Len(t, result.Records, tt.want)
		})
	}
}

func TestDemoGetCount(t *testing.T) {
	c := newDemoClient()

	result, err := c.Get(context.Background(), "/Orders/$count?$filter=DocumentStatus eq bost_Open")
	require.NoError(t, err)
	assert.True(t, result.HasCount)
	assert.Equal(t, 3, result.Count)
	assert.Empty(t, result.Records)

	result, err = c.Get(context.Background(), "/Invoices?$count=true")
	require.NoError(t, err)
	assert.True(t, result.HasCount)
	assert.Equal(t, 2, result.Count)
	assert.Len(t, result.Records, 2)
}

func TestDemoGetSimulatesInvalidProperty(t *testing.T) {
	c := newDemoClient()

	_, err := c.Get(context.Background(), "/Orders?$filter=DocStatus eq 'open'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Property 'DocStatus' of 'Document' is invalid")
	assert.Equal(t, saperr.CodeQueryExecution, saperr.CodeOf(err))
}

func TestDemoGetUnknownEntity(t *testing.T) {
	c := newDemoClient()

	_, err := c.Get(context.Background(), "/Spaceships")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource not found")
}

func TestDemoPostAssignsDocEntry(t *testing.T) {
	c := newDemoClient()

	result, err := c.Post(context.Background(), "/Drafts", map[string]any{
		"CardCode":      "C20000",
		"DocObjectCode": "oInvoices",
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	entry, ok := result.Records[0]["DocEntry"].(int)
	require.True(t, ok)
	assert.Greater(t, entry, 1000)
	assert.Equal(t, "C20000", result.Records[0]["CardCode"])
}

func TestDemoPostUnknownEntity(t *testing.T) {
	c := newDemoClient()
	_, err := c.Post(context.Background(), "/Spaceships", map[string]any{})
	assert.Error(t, err)
}

func TestDemoServiceDocument(t *testing.T) {
	c := newDemoClient()
	names, err := c.ServiceDocument(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "Orders")
	assert.Contains(t, names, "ProductionOrders")
}

func TestParseResult(t *testing.T) {
	t.Run("count body", func(t *testing.T) {
		result, err := parseResult("/Orders/$count", []byte("42"))
		require.NoError(t, err)
		assert.True(t, result.HasCount)
		assert.Equal(t, 42, result.Count)
	})

	t.Run("odata envelope", func(t *testing.T) {
		body := []byte(`{"odata.metadata":"...","value":[{"DocNum":1},{"DocNum":2}],"odata.count":7}`)
		result, err := parseResult("/Orders", body)
		require.NoError(t, err)
		assert.Len(t, result.Records, 2)
		assert.True(t, result.HasCount)
		assert.Equal(t, 7, result.Count)
	})

	t.Run("single object", func(t *testing.T) {
		result, err := parseResult("/Orders(1)", []byte(`{"DocNum":10001}`))
		require.NoError(t, err)
		require.Len(t, result.Records, 1)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseResult("/Orders", []byte("<html>oops</html>"))
		assert.Error(t, err)
	})
}

func TestExtractErrorMessage(t *testing.T) {
	body := []byte(`{"error":{"code":-1029,"message":{"value":"Property 'DocStatus' of 'Document' is invalid"}}}`)
	assert.Equal(t, "Property 'DocStatus' of 'Document' is invalid", extractErrorMessage(body))
	assert.Equal(t, "plain text", extractErrorMessage([]byte(" plain text ")))
}

func TestEncodeURL(t *testing.T) {
	assert.Equal(t, "/Orders?$filter=CardName%20eq%20%27Maxi%27", encodeURL("/Orders?$filter=CardName eq 'Maxi'"))
}
