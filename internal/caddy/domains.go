package caddy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// tlsSubjectsPath is the sub-tree holding the automated-certificate subject
// list of the first TLS automation policy.
const tlsSubjectsPath = "/config/apps/tls/automation/policies/0/subjects"

// ListDomains returns the hostnames covered by the TLS automation policy.
func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	body, err := c.Request(ctx, tlsSubjectsPath, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}

	if s := strings.TrimSpace(string(body)); s == "null" || s == "" {
		return []string{}, nil
	}

	var subjects []string
	if err := json.Unmarshal(body, &subjects); err != nil {
		return nil, fmt.Errorf("failed to decode subjects: %w", err)
	}
	return subjects, nil
}

// AddDomain adds a hostname to the TLS automation policy. Adding a hostname
// that is already present is a no-op.
func (c *Client) AddDomain(ctx context.Context, domainName string) error {
	subjects, err := c.ListDomains(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(subjects, domainName) {
		return nil
	}

	subjects = append(subjects, domainName)
	_, err = c.Request(ctx, tlsSubjectsPath, RequestOptions{
		Method: http.MethodPatch,
		Body:   subjects,
	})
	return err
}

// RemoveDomain removes a hostname from the TLS automation policy. Removing
// an absent hostname is a no-op.
func (c *Client) RemoveDomain(ctx context.Context, domainName string) error {
	subjects, err := c.ListDomains(ctx)
	if err != nil {
		return err
	}

	idx := slices.Index(subjects, domainName)
	if idx < 0 {
		return nil
	}

	subjects = slices.Delete(subjects, idx, idx+1)
	_, err = c.Request(ctx, tlsSubjectsPath, RequestOptions{
		Method: http.MethodPatch,
		Body:   subjects,
	})
	return err
}
