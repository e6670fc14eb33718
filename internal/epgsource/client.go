// SPDX-License-Identifier: MIT

// Package epgsource provides the production EPG collaborators: an HTTP JSON
// guide client and a template-based stream URL resolver.
package epgsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/series"
)

// maxBodyBytes caps EPG responses; a misbehaving upstream must not balloon
// daemon memory.
const maxBodyBytes = 16 << 20

// Client fetches channel guides from a JSON HTTP endpoint:
// GET {base}/epg?channel={id} returning an array of programmes.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewClient constructs a guide client. baseURL must not be empty.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// FetchEPG returns the current guide for one channel.
func (c *Client) FetchEPG(ctx context.Context, channelID string) ([]series.Programme, error) {
	if c.baseURL == "" {
		return nil, errors.New("epg base url not configured")
	}
	endpoint := c.baseURL + "/epg?channel=" + url.QueryEscape(channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build epg request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch epg for %s: %w", channelID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("epg endpoint returned %d for channel %s", resp.StatusCode, channelID)
	}

	var batch []series.Programme
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode epg response: %w", err)
	}
	c.logger.Debug().Str("channel", channelID).Int("programmes", len(batch)).Msg("epg fetched")
	return batch, nil
}

// TemplateResolver renders capture URLs from a configured template with a
// {channel} placeholder.
type TemplateResolver struct {
	Template string
}

// ResolveStreamURL renders the capture URL for a channel.
func (r *TemplateResolver) ResolveStreamURL(ctx context.Context, channelID string) (string, error) {
	if r == nil || r.Template == "" {
		return "", errors.New("stream url template not configured")
	}
	if !strings.Contains(r.Template, "{channel}") {
		return r.Template, nil
	}
	return strings.ReplaceAll(r.Template, "{channel}", url.PathEscape(channelID)), nil
}
