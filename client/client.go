// Copyright 2026 cfbench Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Client is the HTTP client of the scoring server.
type Client struct {
	entryPoint string
	token      string
	httpClient http.Client
}

// NewClient creates a client of the scoring server. The token is attached to
// every request as a bearer token when not empty.
func NewClient(entryPoint, token string) *Client {
	return &Client{
		entryPoint: strings.TrimSuffix(entryPoint, "/"),
		token:      token,
	}
}

// SetTLSConfig sets the TLS configuration used for https endpoints.
func (c *Client) SetTLSConfig(tlsConfig *tls.Config) {
	c.httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
}

func request[Response any, Body any](ctx context.Context, c *Client, method, url string, body Body) (result Response, err error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return result, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return result, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err = io.Copy(buf, resp.Body); err != nil {
		return result, err
	}
	if resp.StatusCode != http.StatusOK {
		return result, ErrorMessage(buf.String())
	}
	if err = json.Unmarshal([]byte(buf.String()), &result); err != nil {
		return result, err
	}
	return result, nil
}

// Ready returns liveness and metadata of the served model.
func (c *Client) Ready(ctx context.Context) (ReadyResponse, error) {
	return request[ReadyResponse, any](ctx, c, http.MethodGet, c.entryPoint+"/api/ready", nil)
}

// Score predicts the rating of an item by a user.
func (c *Client) Score(ctx context.Context, userId, itemId string) (ScoreResponse, error) {
	return request[ScoreResponse](ctx, c, http.MethodPost, c.entryPoint+"/api/score",
		ScoreRequest{UserId: userId, ItemId: itemId})
}

// Scores predicts the ratings of a batch of user-item pairs.
func (c *Client) Scores(ctx context.Context, pairs []ScoreRequest) ([]ScoreResponse, error) {
	return request[[]ScoreResponse](ctx, c, http.MethodPost, c.entryPoint+"/api/scores", pairs)
}

// Recommend returns the top n items for a user.
func (c *Client) Recommend(ctx context.Context, userId string, n int) ([]RecommendedItem, error) {
	return request[[]RecommendedItem](ctx, c, http.MethodPost, c.entryPoint+"/api/recommend",
		RecommendRequest{UserId: userId, N: n})
}
