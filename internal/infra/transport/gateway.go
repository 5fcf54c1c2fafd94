package transport

import (
	"context"

	"walletd/internal/usecase"
)

// Call adapts the full pipeline to the usecase gateway port.
func (c *Client) Call(ctx context.Context, req usecase.APIRequest) ([]byte, error) {
	resp, err := c.Do(ctx, Request{
		Method:       req.Method,
		Path:         req.Path,
		Query:        req.Query,
		Body:         req.Body,
		RequiresAuth: req.RequiresAuth,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

var _ usecase.Gateway = (*Client)(nil)
