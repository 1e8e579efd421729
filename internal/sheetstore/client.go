package sheetstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMissingConfig is returned when the credentials needed to reach the
// spreadsheet API are absent.
var ErrMissingConfig = errors.New("sheetstore: missing configuration")

// APIError is a non-2xx reply from the spreadsheet API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("sheetstore: api error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("sheetstore: api error %d: %s", e.Status, e.Message)
}

// UnknownOptionError means a write carried a select-field value the sheet's
// column vocabulary does not define. The row is unsyncable until the option
// is added sheet-side or the value is corrected.
type UnknownOptionError struct {
	Option string
	cause  *APIError
}

func (e *UnknownOptionError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("sheetstore: option %q is not in the column's allowed values", e.Option)
	}
	return "sheetstore: value is not in the column's allowed values"
}

func (e *UnknownOptionError) Unwrap() error { return e.cause }

var quotedOption = regexp.MustCompile(`"([^"]+)"`)

// Credentials identify one table in one base.
type Credentials struct {
	Token  string
	BaseID string
	Table  string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: api token is empty", ErrMissingConfig)
	}
	if strings.TrimSpace(c.BaseID) == "" {
		return fmt.Errorf("%w: base id is empty", ErrMissingConfig)
	}
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("%w: table name is empty", ErrMissingConfig)
	}
	return nil
}

// Record is one spreadsheet row.
type Record struct {
	ID          string    `json:"id"`
	Fields      Fields    `json:"fields"`
	CreatedTime time.Time `json:"createdTime,omitempty"`
}

// Client reads and writes spreadsheet rows.
type Client interface {
	ListRecords(ctx context.Context, creds Credentials, filterFormula string) ([]Record, error)
	CreateRecord(ctx context.Context, creds Credentials, fields Fields) (Record, error)
	UpdateRecord(ctx context.Context, creds Credentials, recordID string, fields Fields) (Record, error)
}

// ClientOptions configure an HTTPClient. The zero value uses production
// defaults.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	RetryWait  time.Duration
}

// HTTPClient talks to an Airtable-compatible records API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryWait  time.Duration
}

func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.airtable.com"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryWait,
	}
}

func (c *HTTPClient) tableURL(creds Credentials) string {
	return c.baseURL + "/v0/" + url.PathEscape(creds.BaseID) + "/" + url.PathEscape(creds.Table)
}

func (c *HTTPClient) ListRecords(ctx context.Context, creds Credentials, filterFormula string) ([]Record, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	var records []Record
	offset := ""
	for {
		query := url.Values{}
		query.Set("pageSize", "100")
		if filterFormula != "" {
			query.Set("filterByFormula", filterFormula)
		}
		if offset != "" {
			query.Set("offset", offset)
		}

		var page struct {
			Records []Record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := c.do(ctx, creds, http.MethodGet, c.tableURL(creds)+"?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

func (c *HTTPClient) CreateRecord(ctx context.Context, creds Credentials, fields Fields) (Record, error) {
	if err := creds.validate(); err != nil {
		return Record{}, err
	}
	body := struct {
		Fields   Fields `json:"fields"`
		Typecast bool   `json:"typecast,omitempty"`
	}{Fields: fields}

	var record Record
	if err := c.do(ctx, creds, http.MethodPost, c.tableURL(creds), body, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (c *HTTPClient) UpdateRecord(ctx context.Context, creds Credentials, recordID string, fields Fields) (Record, error) {
	if err := creds.validate(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(recordID) == "" {
		return Record{}, fmt.Errorf("%w: record id is empty", ErrMissingConfig)
	}
	body := struct {
		Fields Fields `json:"fields"`
	}{Fields: fields}

	var record Record
	err := c.do(ctx, creds, http.MethodPatch, c.tableURL(creds)+"/"+url.PathEscape(recordID), body, &record)
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

func (c *HTTPClient) do(ctx context.Context, creds Credentials, method, rawURL string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sheetstore: encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+creds.Token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := retryAfter(resp, c.retryWait)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp.StatusCode, raw)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("sheetstore: decode response: %w", err)
		}
		return nil
	}
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(raw))}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var detail struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		// The error member is either an object or a bare string.
		if json.Unmarshal(envelope.Error, &detail) == nil && (detail.Type != "" || detail.Message != "") {
			apiErr.Type = detail.Type
			apiErr.Message = detail.Message
		} else {
			var msg string
			if json.Unmarshal(envelope.Error, &msg) == nil {
				apiErr.Message = msg
			}
		}
	}

	if apiErr.Type == "INVALID_MULTIPLE_CHOICE_OPTIONS" {
		option := ""
		if m := quotedOption.FindStringSubmatch(apiErr.Message); m != nil {
			option = m[1]
		}
		return &UnknownOptionError{Option: option, cause: apiErr}
	}
	return apiErr
}

func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
