// Package client talks to wall-server over HTTP and WebSocket and implements
// the wall package's PostStore, BlobStore and ChangeFeed ports.
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

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/wall"
)

// APIError is a non-2xx response from wall-server.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client 连接 wall-server 的客户端
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithReconnectDelay sets the wait between realtime reconnect attempts.
func WithReconnectDelay(d time.Duration) Option { return func(c *Client) { c.reconnectDelay = d } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL:        u,
		http:           &http.Client{},
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		log:            zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// ListRecent 最近 limit 条帖子，按创建时间倒序
func (c *Client) ListRecent(ctx context.Context, limit int) ([]wall.Post, error) {
	var posts []wall.Post
	err := c.do(ctx, http.MethodGet, "/api/v1/posts?limit="+strconv.Itoa(limit), nil, "", &posts)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// Insert 插入一行并返回插入后的行
func (c *Client) Insert(ctx context.Context, p wall.NewPost) (*wall.Post, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var post wall.Post
	if err := c.do(ctx, http.MethodPost, "/api/v1/posts", bytes.NewReader(body), "application/json", &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/posts/"+url.PathEscape(id), nil, "", nil)
}

// Upload stores body as bucket/key; size is sent as Content-Length.
func (c *Client) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/storage/v1/object/"+url.PathEscape(bucket)+"/"+escapeKey(key)), body)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// PublicURL 对象的公开访问地址
func (c *Client) PublicURL(bucket, path string) string {
	return c.endpoint("/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapeKey(path))
}

func escapeKey(key string) string {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		c.log.Debug("api error", zap.String("method", req.Method), zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode), zap.String("message", env.Message))
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, decodeErr)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
