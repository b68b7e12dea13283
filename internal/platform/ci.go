package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

const travisAPIVersion = "3"

// CI triggers a build of the worker repository through the Travis v3 API.
type CI struct {
	requestURL *url.URL
	token      string
	branch     string
	client     *http.Client
}

func NewCI(baseURL, repo, token, branch string) (*CI, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the ci url with a scheme and without path, e.g. `https://api.travis-ci.com`")
	}
	if repo == "" {
		return nil, errors.New("ci repository is required")
	}
	// the repository slug is a single, escaped path segment
	parsedURL.Path = "/repo/" + repo + "/requests"
	parsedURL.RawPath = "/repo/" + url.PathEscape(repo) + "/requests"

	return &CI{
		requestURL: parsedURL,
		token:      token,
		branch:     branch,
		client:     &http.Client{},
	}, nil
}

type ciRequest struct {
	Request ciRequestBody `json:"request"`
}

type ciRequestBody struct {
	Message string          `json:"message,omitempty"`
	Branch  string          `json:"branch"`
	Config  ciRequestConfig `json:"config"`
}

type ciRequestConfig struct {
	Env map[string]string `json:"env"`
}

func (c *CI) Submit(ctx context.Context, req model.ScraperJobRequest) error {
	raw, err := json.Marshal(ciRequest{Request: ciRequestBody{
		Message: "scraper " + req.Label(),
		Branch:  c.branch,
		Config:  ciRequestConfig{Env: req.Env()},
	}})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Travis-API-Version", travisAPIVersion)
	httpReq.Header.Set("Authorization", "token "+c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ci request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ci request rejected, status: %d, body: %s", resp.StatusCode, string(body))
	}

	var accepted struct {
		Request struct {
			ID int64 `json:"id"`
		} `json:"request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding ci response failed: %w", err)
	}
	slog.DebugContext(ctx, "ci build requested",
		slog.String("channel", req.PubsubChannelName),
		slog.Int64("request_id", accepted.Request.ID))
	return nil
}
