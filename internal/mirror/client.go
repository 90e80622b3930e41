package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tangramcore/tangram/internal/auth"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// Client talks to a remote Server over the spec §6.2 wire protocol.
// Grounded on teacher pkg/client/client.go's shape: one base address, one
// bearer token, one *http.Client shared across typed methods.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken attaches a bearer token to every request, as a logged-in CLI
// session would (spec §5's auth, §6.2's /logins flow).
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the transport, e.g. in tests against httptest.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a Client against baseURL (e.g. the TANGRAM_URL
// environment variable, spec §6.4).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// GetBlock fetches i's raw envelope from the mirror, spec §6.2
// `GET /blocks/{id}`.
func (c *Client) GetBlock(ctx context.Context, i id.ID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/blocks/"+i.String(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, tgerror.NotFound("mirror: block %s not found on remote", i)
	default:
		return nil, fmt.Errorf("mirror: get block %s: unexpected status %s", i, resp.Status)
	}
}

// TryAddBlock uploads payload to the mirror, spec §6.2 `POST /blocks/{id}`.
// A 409 response reports the children the mirror still needs before it can
// accept payload, exactly like block.Store.TryAdd's local AddOutcome.
func (c *Client) TryAddBlock(ctx context.Context, payload []byte) (block.AddOutcome, error) {
	key := id.Hash(payload)
	resp, err := c.do(ctx, http.MethodPost, "/blocks/"+key.String(), bytes.NewReader(payload))
	if err != nil {
		return block.AddOutcome{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return block.AddOutcome{Added: true}, nil
	case http.StatusConflict:
		var body missingChildrenBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return block.AddOutcome{}, err
		}
		missing := make([]id.ID, len(body.Missing))
		for i, s := range body.Missing {
			parsed, err := id.Parse(s)
			if err != nil {
				return block.AddOutcome{}, err
			}
			missing[i] = parsed
		}
		return block.AddOutcome{MissingChildren: missing}, nil
	default:
		return block.AddOutcome{}, fmt.Errorf("mirror: try-add block %s: unexpected status %s", key, resp.Status)
	}
}

// GetOperationOutput resolves opID's memoised output, spec §6.2
// `GET /operations/{id}/output`.
func (c *Client) GetOperationOutput(ctx context.Context, opID id.ID) (id.ID, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/operations/"+opID.String()+"/output", nil)
	if err != nil {
		return id.Nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return id.Nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return id.Nil, false, fmt.Errorf("mirror: get output %s: unexpected status %s", opID, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return id.Nil, false, err
	}
	valueID, err := id.Parse(string(raw))
	if err != nil {
		return id.Nil, false, err
	}
	return valueID, true, nil
}

// PackageHit is one search result from SearchPackages.
type PackageHit struct {
	Name string `json:"name"`
}

// SearchPackages queries the remote registry, spec §6.2
// `GET /packages/search?query=...`.
func (c *Client) SearchPackages(ctx context.Context, query string) ([]PackageHit, error) {
	resp, err := c.do(ctx, http.MethodGet, "/packages/search?query="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror: search packages: unexpected status %s", resp.Status)
	}
	var hits []PackageHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// GetPackage resolves name@version to a Package value id, spec §6.2
// `GET /packages/{name}/{version}`.
func (c *Client) GetPackage(ctx context.Context, name, version string) (id.ID, error) {
	resp, err := c.do(ctx, http.MethodGet, "/packages/"+url.PathEscape(name)+"/"+url.PathEscape(version), nil)
	if err != nil {
		return id.Nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return id.Nil, tgerror.NotFound("mirror: package %s/%s not found", name, version)
	}
	if resp.StatusCode != http.StatusOK {
		return id.Nil, fmt.Errorf("mirror: get package %s/%s: unexpected status %s", name, version, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return id.Nil, err
	}
	return id.Parse(string(raw))
}

// CreateLogin and GetLogin satisfy auth.Client, letting a Client double as
// the login-poll transport for cmd/tg's (out-of-scope as a CLI verb, but
// honoured as a wire endpoint per SPEC_FULL §4.13) login flow.
var _ auth.Client = (*Client)(nil)

func (c *Client) CreateLogin(ctx context.Context) (auth.Login, error) {
	resp, err := c.do(ctx, http.MethodPost, "/logins", nil)
	if err != nil {
		return auth.Login{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Login{}, fmt.Errorf("mirror: create login: unexpected status %s", resp.Status)
	}
	var body struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return auth.Login{}, err
	}
	return auth.Login{ID: body.ID, URL: c.baseURL + body.URL}, nil
}

func (c *Client) GetLogin(ctx context.Context, loginID string) (auth.Login, error) {
	resp, err := c.do(ctx, http.MethodGet, "/logins/"+loginID, nil)
	if err != nil {
		return auth.Login{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Login{}, fmt.Errorf("mirror: get login %s: unexpected status %s", loginID, resp.Status)
	}
	var body struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return auth.Login{}, err
	}
	return auth.Login{ID: body.ID, Token: body.Token}, nil
}
