// Package client implements the HTTP side of node-to-node federation:
// key discovery, access-token exchange, attachment fetch and token
// delivery. All requests carry a bounded timeout of their own, since they
// chain into potentially slow third-party nodes.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cloudillo/federation"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string

	// BaseURL maps an identity tag to the node API base URL. Overridable
	// for tests; the default resolves the conventional API host.
	BaseURL func(idTag string) string
}

func New(userAgent string) *Client {
	httpClient := &http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: userAgent,
		BaseURL: func(idTag string) string {
			return "https://" + federation.APIHost(idTag)
		},
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

func (c *Client) getJSON(ctx context.Context, rawURL, bearer string, response any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

// GetKeys fetches the public key listing of a remote identity.
func (c *Client) GetKeys(ctx context.Context, idTag string) (federation.KeyList, error) {
	var keys federation.KeyList
	err := c.getJSON(ctx, c.BaseURL(idTag)+"/api/me/keys", "", &keys)
	if err != nil {
		return federation.KeyList{}, federation.UnknownKeyf("key fetch from %s: %v", idTag, err)
	}
	return keys, nil
}

// ExchangeToken presents a signed proxy token at the target node and
// returns the bearer access token it mints, together with the expiry
// the target declared for it.
func (c *Client) ExchangeToken(ctx context.Context, targetTag, proxyToken string) (federation.AccessToken, error) {
	endpoint := c.BaseURL(targetTag) + "/api/auth/access-token?token=" + url.QueryEscape(proxyToken)

	var result federation.AccessToken
	if err := c.getJSON(ctx, endpoint, "", &result); err != nil {
		return federation.AccessToken{}, federation.ProxyUnavailablef("exchange with %s: %v", targetTag, err)
	}
	if result.Token == "" {
		return federation.AccessToken{}, federation.ProxyUnavailablef("empty access token from %s", targetTag)
	}
	return result, nil
}

// FetchVariant streams one binary attachment variant from the issuer's
// blob endpoint. The caller owns the returned body.
func (c *Client) FetchVariant(ctx context.Context, idTag, variantID, bearer string) (io.ReadCloser, string, error) {
	endpoint := c.BaseURL(idTag) + "/api/store/" + url.PathEscape(variantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", federation.AttachmentFetchf("%v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", federation.AttachmentFetchf("variant %s from %s: %v", variantID, idTag, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", federation.AttachmentFetchf("variant %s from %s: status %d", variantID, idTag, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// FetchVariantMeta fetches the metadata document of a variant. Responses
// are cached briefly: distinct variants of one attachment often share a
// metadata fetch burst during ingestion.
func (c *Client) FetchVariantMeta(ctx context.Context, idTag, variantID, bearer string) (federation.AttachmentMeta, error) {
	cacheKey := "meta:" + idTag + "/" + variantID
	if x, found := c.cache.Get(cacheKey); found {
		return x.(federation.AttachmentMeta), nil
	}

	endpoint := c.BaseURL(idTag) + "/api/store/" + url.PathEscape(variantID) + "/meta"

	var meta federation.AttachmentMeta
	if err := c.getJSON(ctx, endpoint, bearer, &meta); err != nil {
		return federation.AttachmentMeta{}, federation.AttachmentFetchf("meta %s from %s: %v", variantID, idTag, err)
	}

	c.cache.Set(cacheKey, meta, cache.DefaultExpiration)
	return meta, nil
}

// DeliverToken posts a signed action token to the target node's inbox.
func (c *Client) DeliverToken(ctx context.Context, targetTag, actionID, tok string) error {
	endpoint := c.BaseURL(targetTag) + "/api/inbox/" + url.PathEscape(actionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(tok))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/jwt")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery to %s failed: %v", targetTag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("delivery to %s rejected: status %d", targetTag, resp.StatusCode)
	}
	return nil
}
