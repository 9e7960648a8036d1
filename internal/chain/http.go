package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/rxledger/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
)

// HTTPConfig configures the chain gateway client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// Breaker failures before the client fails fast.
	MaxFailures int
	Cooldown    time.Duration
}

// httpOracle talks to the chain gateway over JSON/HTTP. Connectivity and
// timeout failures surface as ChainUnreachableError so callers can tell an
// outage from a tamper verdict.
type httpOracle struct {
	baseURL string
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
}

// NewHTTPOracle builds an Oracle over the gateway at cfg.BaseURL.
func NewHTTPOracle(cfg HTTPConfig) (Oracle, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chain gateway base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &httpOracle{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "chain-gateway",
			MaxFailures: cfg.MaxFailures,
			Cooldown:    cfg.Cooldown,
		}),
	}, nil
}

func (o *httpOracle) GetPrescriptionState(ctx context.Context, id string) (*PrescriptionState, error) {
	var state PrescriptionState
	path := "/v1/prescriptions/" + url.PathEscape(id)
	if err := o.get(ctx, "get_prescription_state", path, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (o *httpOracle) GetInventoryRoot(ctx context.Context) (string, error) {
	var resp struct {
		Root string `json:"root"`
	}
	if err := o.get(ctx, "fetch_root", "/v1/inventory/root", &resp); err != nil {
		return "", err
	}
	return strings.TrimPrefix(resp.Root, "0x"), nil
}

func (o *httpOracle) AnchorInventoryRoot(ctx context.Context, root string) (*AnchorReceipt, error) {
	body, err := json.Marshal(map[string]string{"root": root})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anchor request: %w", err)
	}
	var receipt AnchorReceipt
	if err := o.post(ctx, "anchor_root", "/v1/inventory/root", body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (o *httpOracle) QueryStatusEvents(ctx context.Context, fromBlock, toBlock int64) ([]StatusEvent, error) {
	var resp struct {
		Events []StatusEvent `json:"events"`
	}
	path := fmt.Sprintf("/v1/events?from=%d&to=%d", fromBlock, toBlock)
	if err := o.get(ctx, "query_events", path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (o *httpOracle) LatestBlock(ctx context.Context) (int64, error) {
	var resp struct {
		Number string `json:"number"`
	}
	if err := o.get(ctx, "latest_block", "/v1/blocks/latest", &resp); err != nil {
		return 0, err
	}
	// The gateway reports hex ("0x1a2b") or plain decimal depending on
	// version.
	num, base := resp.Number, 10
	if rest := strings.TrimPrefix(num, "0x"); rest != num {
		num, base = rest, 16
	}
	n, err := strconv.ParseInt(num, base, 64)
	if err != nil {
		return 0, fmt.Errorf("gateway returned malformed block number %q: %w", resp.Number, err)
	}
	return n, nil
}

func (o *httpOracle) get(ctx context.Context, op, path string, out interface{}) error {
	return o.do(ctx, op, http.MethodGet, path, nil, out)
}

func (o *httpOracle) post(ctx context.Context, op, path string, body []byte, out interface{}) error {
	return o.do(ctx, op, http.MethodPost, path, body, out)
}

func (o *httpOracle) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	err := o.cb.Execute(func() error {
		var reader io.Reader
		if body != nil {
			reader = strings.NewReader(string(body))
		}
		req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to build gateway request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := o.client.Do(req)
		if err != nil {
			// Transport errors, DNS failures and timeouts all land here.
			return apperrors.NewChainUnreachable(op, err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return apperrors.NewChainUnreachable(op, err)
		}

		switch {
		case resp.StatusCode >= 500:
			return apperrors.NewChainUnreachable(op, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, payload))
		case resp.StatusCode >= 400:
			// 4xx means the gateway is up but rejected the call (e.g. a
			// reverted anchor transaction). Not a connectivity failure.
			return fmt.Errorf("gateway rejected %s: %d: %s", op, resp.StatusCode, payload)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode gateway response for %s: %w", op, err)
		}
		return nil
	})
	if err == circuitbreaker.ErrOpen {
		return apperrors.NewChainUnreachable(op, err)
	}
	return err
}
