// Package pocketbase writes station records to a PocketBase style REST API.
package pocketbase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
)

const recordsPath = "/api/collections/{collection}/records"

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pocketbase: status %d", e.Status)
	}
	return fmt.Sprintf("pocketbase: status %d: %s", e.Status, e.Message)
}

type Options struct {
	BaseURL string
	// Token is sent verbatim in the Authorization header when set.
	Token   string
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("pocketbase base url must not be empty")
	}
	r := resty.New()
	r.SetBaseURL(opts.BaseURL)
	r.SetTimeout(opts.Timeout)
	// a failed write is reported to the caller as is
	r.SetRetryCount(0)
	r.SetHeader("Content-Type", "application/json")
	if opts.Token != "" {
		r.SetHeader("Authorization", opts.Token)
	}
	return &Client{http: r}, nil
}

// Create posts one record to the collection.
func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) error {
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("collection", collection).
		SetBody(fields).
		SetError(apiErr).
		Post(recordsPath)
	if err != nil {
		return fmt.Errorf("create %s record: %w", collection, err)
	}
	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = resp.String()
		}
		return apiErr
	}
	return nil
}

type listResponse struct {
	TotalItems int              `json:"totalItems"`
	Items      []map[string]any `json:"items"`
}

// motorTypes returns the motor types that already have a record in a limits
// collection. A missing collection has none.
func (c *Client) motorTypes(ctx context.Context, collection string) (map[string]bool, error) {
	list := &listResponse{}
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("collection", collection).
		SetQueryParam("perPage", "500").
		SetResult(list).
		SetError(apiErr).
		Get(recordsPath)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", collection, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return map[string]bool{}, nil
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = resp.String()
		}
		return nil, apiErr
	}
	seen := make(map[string]bool, len(list.Items))
	for _, item := range list.Items {
		if m := models.StringField(item, models.FieldMotorType); m != "" {
			seen[m] = true
		}
	}
	return seen, nil
}

// SeedLimits writes the motor type profiles of the table that the remote
// limits collections do not hold yet, so seeding twice adds nothing. It
// returns how many records were written before the first failure.
func (c *Client) SeedLimits(ctx context.Context, t *limits.Table) (int, error) {
	n := 0
	for _, st := range t.Stations {
		collection := models.LimitsCollection(st.Code)
		seen, err := c.motorTypes(ctx, collection)
		if err != nil {
			return n, fmt.Errorf("seed %s: %w", st.Code, err)
		}
		for _, motor := range st.MotorTypeNames() {
			if seen[motor] {
				continue
			}
			if err := c.Create(ctx, collection, st.MotorTypes[motor].Record(motor)); err != nil {
				return n, fmt.Errorf("seed %s/%s: %w", st.Code, motor, err)
			}
			n++
		}
	}
	return n, nil
}
