package invoice

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/sapclient"
)

// fakeSAP answers partner and order lookups from fixed fixtures.
type fakeSAP struct {
	partner *map[string]any
	order   *map[string]any
	posts   []any
	urls    []string
}

func (f *fakeSAP) Get(_ context.Context, url string) (*sapclient.Result, error) {
	f.urls = append(f.urls, url)
	switch {
	case strings.HasPrefix(url, "/BusinessPartners") && f.partner != nil:
		if strings.Contains(url, "EmailAddress eq 'contact@maxiteq.example'") ||
			strings.Contains(url, "contains(CardName,'Maxi") {
			return &sapclient.Result{Records: []map[string]any{*f.partner}}, nil
		}
	case strings.HasPrefix(url, "/Orders") && f.order != nil:
		if strings.Contains(url, "DocNum eq 10001") {
			return &sapclient.Result{Records: []map[string]any{*f.order}}, nil
		}
	}
	return &sapclient.Result{}, nil
}

func (f *fakeSAP) Post(_ context.Context, url string, payload any) (*sapclient.Result, error) {
	f.posts = append(f.posts, payload)
	record := map[string]any{"DocEntry": 1001}
	_ = url
	return &sapclient.Result{Records: []map[string]any{record}}, nil
}

func maxiTeq() map[string]any {
	return map[string]any{"CardCode": "C20000", "CardName": "Maxi-Teq", "EmailAddress": "contact@maxiteq.example"}
}

func openOrder() map[string]any {
	return map[string]any{"DocEntry": 1, "DocNum": 10001, "CardCode": "C20000", "DocDate": "2026-08-03"}
}

func TestExtractOrderNumbers(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"please invoice order 10001", []string{"10001"}},
		{"PO #10002 is delivered", []string{"10002"}},
		{"votre commande n° 10003", []string{"10003"}},
		{"ref: 10004 thanks", []string{"10004"}},
		{"order 10001 and order 10001 again", []string{"10001"}},
		{"order 10001 then commande 10002", []string{"10001", "10002"}},
		{"no numbers here", nil},
		{"call me at 0601020304 tomorrow", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractOrderNumbers(tt.text), tt.text)
	}
}

func TestSenderAddress(t *testing.T) {
	assert.Equal(t, "a@b.example", senderAddress("Alice <a@b.example>"))
	assert.Equal(t, "a@b.example", senderAddress("a@b.example"))
	assert.Equal(t, "a@b.example", senderAddress(" a@b.example "))
}

func TestFindPartnerByEmail(t *testing.T) {
	partner := maxiTeq()
	sap := &fakeSAP{partner: &partner}

	got, err := FindPartner(context.Background(), sap, "Someone <contact@maxiteq.example>")
	require.NoError(t, err)
	assert.Equal(t, "C20000", got["CardCode"])
	require.NotEmpty(t, sap.urls)
	assert.Contains(t, sap.urls[0], "EmailAddress eq 'contact@maxiteq.example'")
}

func TestFindPartnerByDisplayName(t *testing.T) {
	partner := maxiTeq()
	sap := &fakeSAP{partner: &partner}

	got, err := FindPartner(context.Background(), sap, `"Maxi-Teq" <billing@other.example>`)
	require.NoError(t, err)
	assert.Equal(t, "Maxi-Teq", got["CardName"])
	require.Len(t, sap.urls, 2)
	assert.Contains(t, sap.urls[1], "contains(CardName,'Maxi-Teq')")
}

func TestFindPartnerNoMatch(t *testing.T) {
	sap := &fakeSAP{}
	_, err := FindPartner(context.Background(), sap, "stranger@nowhere.example")
	assert.Error(t, err)
}

func TestFindOpenOrder(t *testing.T) {
	order := openOrder()
	sap := &fakeSAP{order: &order}

	got, err := FindOpenOrder(context.Background(), sap, "10001", "C20000")
	require.NoError(t, err)
	assert.Equal(t, 10001, got["DocNum"])
	assert.Contains(t, sap.urls[0], "DocNum eq 10001 and DocumentStatus eq bost_Open and CardCode eq 'C20000'")

	_, err = FindOpenOrder(context.Background(), sap, "99999", "")
	assert.Error(t, err)
}

func TestCreateDraftInvoice(t *testing.T) {
	sap := &fakeSAP{}

	draft, err := CreateDraftInvoice(context.Background(), sap, openOrder())
	require.NoError(t, err)
	assert.Equal(t, 1001, draft["DocEntry"])

	require.Len(t, sap.posts, 1)
	payload, ok := sap.posts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "oInvoices", payload["DocObjectCode"])
	assert.Equal(t, "C20000", payload["CardCode"])

	lines, ok := payload["DocumentLines"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, 17, lines[0]["BaseType"])
	assert.Equal(t, 1, lines[0]["BaseEntry"])
}
