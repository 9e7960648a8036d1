package chain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayOracle(t *testing.T, handler http.HandlerFunc) Oracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oracle, err := NewHTTPOracle(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return oracle
}

func TestLatestBlockParsesHexAndDecimal(t *testing.T) {
	cases := []struct {
		number string
		want   int64
	}{
		{"0x1a2b", 6699},
		{"0x10", 16},
		{"123", 123},
		{"0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.number, func(t *testing.T) {
			oracle := newGatewayOracle(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/blocks/latest", r.URL.Path)
				fmt.Fprintf(w, `{"number":%q}`, tc.number)
			})

			n, err := oracle.LatestBlock(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestLatestBlockRejectsMalformedNumber(t *testing.T) {
	oracle := newGatewayOracle(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":"not-a-block"}`)
	})

	_, err := oracle.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed block number")
}
