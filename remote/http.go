package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/despacho/iox"
	"github.com/pithecene-io/despacho/types"
)

// DefaultHTTPTimeout bounds one request.
const DefaultHTTPTimeout = 15 * time.Second

// MaxResponseBytes bounds one response body.
const MaxResponseBytes = 16 << 20

// HTTPClient talks to the store's REST API.
//
// Endpoints:
//
//	POST   /v1/collections/{c}/documents        create
//	PATCH  /v1/collections/{c}/documents/{id}   merge update
//	DELETE /v1/collections/{c}/documents/{id}   delete
//	POST   /v1/collections/{c}:query            query
//	POST   /v1:commit                           atomic batch
//
// The client makes exactly one request per call. Retrying is the
// caller's concern.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for baseURL. httpClient may be nil.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

type documentBody struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type queryBody struct {
	OrderBy string       `json:"orderBy,omitempty"`
	Desc    bool         `json:"desc,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Where   []wireFilter `json:"where,omitempty"`
}

type wireFilter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type queryResponse struct {
	Documents []documentBody `json:"documents"`
}

type commitBody struct {
	Writes []wireWrite `json:"writes"`
}

type wireWrite struct {
	Op         WriteKind      `json:"op"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func collectionPath(collection string) string {
	return "/v1/collections/" + url.PathEscape(collection)
}

// Create implements Store.
func (c *HTTPClient) Create(ctx context.Context, collection string, f types.Fields) (string, error) {
	var out documentBody
	err := c.doJSON(ctx, http.MethodPost, collectionPath(collection)+"/documents",
		documentBody{Fields: encodeFields(f)}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create %s: response carried no id", collection)
	}
	return out.ID, nil
}

// Update implements Store.
func (c *HTTPClient) Update(ctx context.Context, collection, id string, f types.Fields) error {
	if id == "" {
		return ErrInvalidID
	}
	return c.doJSON(ctx, http.MethodPatch,
		collectionPath(collection)+"/documents/"+url.PathEscape(id),
		documentBody{Fields: encodeFields(f)}, nil)
}

// Delete implements Store.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return c.doJSON(ctx, http.MethodDelete,
		collectionPath(collection)+"/documents/"+url.PathEscape(id), nil, nil)
}

// Query implements Store.
func (c *HTTPClient) Query(ctx context.Context, q Query) ([]Document, error) {
	body := queryBody{OrderBy: q.OrderBy, Desc: q.Desc, Limit: q.Limit}
	for _, f := range q.Where {
		body.Where = append(body.Where, wireFilter{Field: f.Field, Op: f.Op, Value: encodeValue(f.Value)})
	}
	var out queryResponse
	if err := c.doJSON(ctx, http.MethodPost, collectionPath(q.Collection)+":query", body, &out); err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(out.Documents))
	for _, d := range out.Documents {
		docs = append(docs, Document{ID: d.ID, Fields: decodeFields(d.Fields)})
	}
	return docs, nil
}

// Commit implements Store.
func (c *HTTPClient) Commit(ctx context.Context, ops []WriteOp) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	body := commitBody{Writes: make([]wireWrite, 0, len(ops))}
	for _, op := range ops {
		body.Writes = append(body.Writes, wireWrite{
			Op:         op.Kind,
			Collection: op.Collection,
			ID:         op.ID,
			Fields:     encodeFields(op.Fields),
		})
	}
	return c.doJSON(ctx, http.MethodPost, "/v1:commit", body, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer iox.DrainClose(resp.Body)

	payload, err := iox.ReadAllLimit(resp.Body, MaxResponseBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = http.StatusText(resp.StatusCode)
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}

var _ Store = (*HTTPClient)(nil)
