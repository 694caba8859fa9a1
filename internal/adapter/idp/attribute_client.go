package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/trioll/trioll-developer-portal/internal/repository"
)

// HTTPAttributeClient writes user attributes through the identity provider's admin API.
type HTTPAttributeClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ repository.AttributeStore = (*HTTPAttributeClient)(nil)

// NewHTTPAttributeClient constructs the admin API client. A nil client gets a 10s timeout.
func NewHTTPAttributeClient(baseURL, token string, client *http.Client) *HTTPAttributeClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAttributeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: client,
	}
}

type attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type updateAttributesRequest struct {
	Attributes []attribute `json:"attributes"`
}

// UpdateUserAttributes replaces the given attributes on the subject's profile.
func (c *HTTPAttributeClient) UpdateUserAttributes(ctx context.Context, subjectID string, attributes map[string]string) error {
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("update attributes: subject missing")
	}
	if len(attributes) == 0 {
		return nil
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	payload := updateAttributesRequest{Attributes: make([]attribute, 0, len(names))}
	for _, name := range names {
		payload.Attributes = append(payload.Attributes, attribute{Name: name, Value: attributes[name]})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/attributes", c.baseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build attributes request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attributes request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("update attributes failed: status=%d", resp.StatusCode)
	}
	return nil
}
