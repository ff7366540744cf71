package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

func TestFetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		require.Equal(t, "demo", r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3012.55}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "demo", "ethereum", "USD")
	price, err := c.FetchPrice(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 3012.55, price, 1e-9)
	require.Equal(t, "ethereum/usd", c.Symbol())
}

func TestFetchPriceFailures(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"status":  func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) },
		"garbage": func(w http.ResponseWriter) { _, _ = w.Write([]byte(`not json`)) },
		"missing": func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"bitcoin":{"usd":1}}`)) },
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { handler(w) }))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", "ethereum", "usd").FetchPrice(context.Background())
			require.ErrorIs(t, err, domain.ErrFetchFailed)
		})
	}
}
