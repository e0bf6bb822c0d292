package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

// HTTPRemote speaks the moodtrace REST surface. Transport-level failures and
// retryable statuses (429, 5xx) are retried with exponential backoff honoring
// Retry-After; everything else maps onto the APIError taxonomy with status 0
// reserved for an unreachable backend.
type HTTPRemote struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPRemote(baseURL, token string, httpClient *http.Client) *HTTPRemote {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRemote{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPRemote) List(ctx context.Context, filter moodtrace.Filter) ([]moodtrace.Entry, error) {
	q := url.Values{}
	if filter.StartDate != 0 {
		q.Set("startDate", strconv.FormatInt(filter.StartDate, 10))
	}
	if filter.EndDate != 0 {
		q.Set("endDate", strconv.FormatInt(filter.EndDate, 10))
	}
	for _, category := range filter.Categories {
		q.Add("category", string(category))
	}
	for _, level := range filter.Levels {
		q.Add("level", strconv.Itoa(level))
	}
	path := "/v1/moods"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []moodtrace.Entry
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPRemote) Get(ctx context.Context, id string) (moodtrace.Entry, error) {
	var out moodtrace.Entry
	err := c.doJSON(ctx, http.MethodGet, "/v1/moods/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *HTTPRemote) Create(ctx context.Context, category moodtrace.Category, level int, note string, timestamp int64) (moodtrace.Entry, error) {
	body := map[string]any{
		"category": category,
		"level":    level,
	}
	if note != "" {
		body["note"] = note
	}
	if timestamp != 0 {
		body["timestamp"] = timestamp
	}
	var out moodtrace.Entry
	err := c.doJSON(ctx, http.MethodPost, "/v1/moods", body, &out)
	return out, err
}

func (c *HTTPRemote) Update(ctx context.Context, id string, fields moodtrace.EntryFields) (moodtrace.Entry, error) {
	var out moodtrace.Entry
	err := c.doJSON(ctx, http.MethodPatch, "/v1/moods/"+url.PathEscape(id), fields, &out)
	return out, err
}

func (c *HTTPRemote) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/moods/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPRemote) Today(ctx context.Context) ([]moodtrace.Entry, error) {
	var out []moodtrace.Entry
	err := c.doJSON(ctx, http.MethodGet, "/v1/moods/today", nil, &out)
	return out, err
}

func (c *HTTPRemote) Stats(ctx context.Context, startDate, endDate int64) (moodtrace.Stats, error) {
	q := url.Values{}
	q.Set("startDate", strconv.FormatInt(startDate, 10))
	q.Set("endDate", strconv.FormatInt(endDate, 10))
	var out moodtrace.Stats
	err := c.doJSON(ctx, http.MethodGet, "/v1/moods/stats?"+q.Encode(), nil, &out)
	return out, err
}

func (c *HTTPRemote) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return moodtrace.UnreachableError(err)
				}
				continue
			}
			return moodtrace.UnreachableError(err)
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return moodtrace.UnreachableError(readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return apiErrorFromResponse(resp.StatusCode, payloadBytes)
			}
			continue
		}

		return apiErrorFromResponse(resp.StatusCode, payloadBytes)
	}
}

func apiErrorFromResponse(statusCode int, payload []byte) error {
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := errPayload.Message
	if message == "" {
		message = errPayload.Code
	}
	return &moodtrace.APIError{
		Status:     statusCode,
		StatusText: http.StatusText(statusCode),
		Message:    message,
	}
}

func (c *HTTPRemote) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

var _ Remote = (*HTTPRemote)(nil)

func (c *HTTPRemote) String() string {
	return fmt.Sprintf("moodtrace remote %s", c.baseURL)
}
