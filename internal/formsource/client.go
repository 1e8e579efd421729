// Package formsource talks to the form-response provider: a paginated
// responses API plus the mapping from per-field opaque refs to the flat
// lead record the rest of the system works with.
package formsource

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
)

var ErrMissingConfig = errors.New("missing configuration")

// HTTPStatusError reports a failed provider call with a remediation hint.
// The whole fetch aborts on the first one; nothing is retried.
type HTTPStatusError struct {
	Status int
	Hint   string
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("form provider returned status %d: %s", e.Status, e.Hint)
	}
	return fmt.Sprintf("form provider returned status %d", e.Status)
}

type answerField struct {
	ID   string `json:"id"`
	Ref  string `json:"ref"`
	Type string `json:"type"`
}

type answerChoice struct {
	Label string `json:"label"`
}

type answerAddress struct {
	Line1   string `json:"line_1"`
	Line2   string `json:"line_2"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Answer is one typed answer inside a response. Exactly one of the value
// fields is set depending on Type.
type Answer struct {
	Field       answerField    `json:"field"`
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	Email       string         `json:"email,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Boolean     *bool          `json:"boolean,omitempty"`
	Choice      *answerChoice  `json:"choice,omitempty"`
	Address     *answerAddress `json:"address,omitempty"`
}

// Response is one form submission. Token doubles as the correlation id and
// the pagination cursor. Raw keeps the undecoded item for audit.
type Response struct {
	ResponseID  string    `json:"response_id"`
	Token       string    `json:"token"`
	FormID      string    `json:"form_id"`
	LandedAt    time.Time `json:"landed_at"`
	SubmittedAt time.Time `json:"submitted_at"`
	Answers     []Answer  `json:"answers"`

	Raw json.RawMessage `json:"-"`
}

type Page struct {
	Items      []Response
	TotalItems int
	PageCount  int
}

// Client fetches one page of responses. The access token travels per call:
// the API forwards operator-supplied credentials, nothing is ambient.
type Client interface {
	Responses(ctx context.Context, formID, token string, pageSize int, after string) (Page, error)
}

type HTTPClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.typeform.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

func (c *HTTPClient) Responses(ctx context.Context, formID, token string, pageSize int, after string) (Page, error) {
	if strings.TrimSpace(formID) == "" {
		return Page{}, fmt.Errorf("%w: form id is required", ErrMissingConfig)
	}
	if strings.TrimSpace(token) == "" {
		return Page{}, fmt.Errorf("%w: form provider token is required", ErrMissingConfig)
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	q := url.Values{}
	q.Set("page_size", fmt.Sprintf("%d", pageSize))
	if after != "" {
		q.Set("after", after)
	}
	requestURL := fmt.Sprintf("%s/forms/%s/responses?%s", c.baseURL, url.PathEscape(formID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return Page{}, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, &HTTPStatusError{
			Status: resp.StatusCode,
			Hint:   fmt.Sprintf("check that the access token and the form id (%s) are correct", formID),
			Body:   strings.TrimSpace(string(body)),
		}
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return Page{}, &HTTPStatusError{
			Status: resp.StatusCode,
			Hint: fmt.Sprintf("provider returned %q instead of JSON; check that the token has response-read permissions and that the form id (%s) is correct",
				contentType, formID),
			Body: strings.TrimSpace(string(body)),
		}
	}

	var payload struct {
		Items      []json.RawMessage `json:"items"`
		TotalItems int               `json:"total_items"`
		PageCount  int               `json:"page_count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Page{}, &HTTPStatusError{
			Status: resp.StatusCode,
			Hint:   "provider response body is not valid JSON",
			Body:   strings.TrimSpace(string(body)),
		}
	}

	page := Page{
		Items:      make([]Response, 0, len(payload.Items)),
		TotalItems: payload.TotalItems,
		PageCount:  payload.PageCount,
	}
	for _, raw := range payload.Items {
		var item Response
		if err := json.Unmarshal(raw, &item); err != nil {
			return Page{}, fmt.Errorf("decode response item: %w", err)
		}
		item.Raw = raw
		page.Items = append(page.Items, item)
	}
	return page, nil
}
