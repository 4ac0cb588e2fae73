package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"portpilot/internal/config"
	"portpilot/internal/env"
	"portpilot/internal/logger"
	"portpilot/internal/models"
)

const apiPrefix = "/portpilot/api/v1"

// HTTPConfig 客户端连接配置
type HTTPConfig struct {
	Address string        // 守护进程侦听地址
	Network string        // unix或tcp
	Timeout time.Duration
}

// SocketPath 守护进程侦听的unix socket路径
func SocketPath() string {
	return filepath.Join(env.PortpilotDir, "run", "portpilot.sock")
}

/**
 * DefaultHTTPConfig 探测可用的守护进程地址
 * @returns {*HTTPConfig} 优先unix socket，没有socket文件时退回tcp
 */
func DefaultHTTPConfig() *HTTPConfig {
	c := &HTTPConfig{
		Address: SocketPath(),
		Network: "unix",
		Timeout: 5 * time.Second,
	}
	if _, err := os.Stat(c.Address); os.IsNotExist(err) {
		c.Address = config.Config.Server.Address
		c.Network = "tcp"
	}
	return c
}

// Response 守护进程的应答
type Response struct {
	StatusCode int
	Body       []byte
	Error      string
}

// OK 2xx应答
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode 把应答体解析到out
func (r *Response) Decode(out interface{}) error {
	if !r.OK() {
		return fmt.Errorf("server returned %d: %s", r.StatusCode, r.Error)
	}
	return json.Unmarshal(r.Body, out)
}

/**
 * Client 与运行中的portpilot守护进程通信的HTTP客户端
 * @description
 * - CLI子命令先尝试通过这里操作常驻守护进程，连不上再退回本地执行
 * - unix socket优先，tcp地址兜底
 */
type Client struct {
	config *HTTPConfig
	client *http.Client
}

func NewClient(cfg *HTTPConfig) *Client {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	transport := &http.Transport{}
	if cfg.Network == "unix" {
		socketPath := cfg.Address
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return net.Dial("unix", socketPath)
		}
	}
	return &Client{
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

// Available 守护进程是否在线
func (c *Client) Available() bool {
	resp, err := c.Get("/healthz", nil)
	return err == nil && resp.OK()
}

func (c *Client) buildURL(path string, params map[string]string) string {
	host := "localhost"
	if c.config.Network == "tcp" {
		host = c.config.Address
	}
	u := url.URL{Scheme: "http", Host: host, Path: apiPrefix + path}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(method, path string, params map[string]string, data interface{}) (*Response, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	target := c.buildURL(path, params)
	logger.Debugf("Sending %s request to %s", method, target)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return deserializeResponse(resp)
}

func (c *Client) Get(path string, params map[string]string) (*Response, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) Post(path string, data interface{}) (*Response, error) {
	return c.do("POST", path, nil, data)
}

func (c *Client) Put(path string, data interface{}) (*Response, error) {
	return c.do("PUT", path, nil, data)
}

func (c *Client) Delete(path string) (*Response, error) {
	return c.do("DELETE", path, nil, nil)
}

// deserializeResponse 读出应答体，非2xx时提取错误描述
func deserializeResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if out.OK() {
		return out, nil
	}

	if len(body) == 0 {
		out.Error = resp.Status
		return out, nil
	}
	var errBody models.ErrorResponse
	if err := json.Unmarshal(body, &errBody); err != nil || errBody.Error == "" {
		out.Error = resp.Status
	} else {
		out.Error = errBody.Error
	}
	return out, nil
}
