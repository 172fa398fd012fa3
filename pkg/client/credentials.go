package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/scrapeworks/osint-worker/api/types"
)

// CreateCredential registers a login credential with the worker.
func (c *Client) CreateCredential(ctx context.Context, name, username, secret string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/credentials",
		types.CredentialRequest{Name: name, Username: username, Secret: secret}, nil)
}

// ListCredentials returns the registered credentials, without secrets.
func (c *Client) ListCredentials(ctx context.Context) ([]types.CredentialView, error) {
	resp := struct {
		Status string                 `json:"status"`
		Data   []types.CredentialView `json:"data"`
	}{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/credentials", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// RotateCredential replaces the stored secret of a credential.
func (c *Client) RotateCredential(ctx context.Context, name, newSecret string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/credentials/"+url.PathEscape(name)+"/rotate",
		types.CredentialRequest{Secret: newSecret}, nil)
}

// DeactivateCredential removes a credential from scraping rotation.
func (c *Client) DeactivateCredential(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/credentials/"+url.PathEscape(name), nil, nil)
}

// VerifyCredential asks the worker to perform a direct login check.
func (c *Client) VerifyCredential(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/credentials/"+url.PathEscape(name)+"/login", nil, nil)
}
