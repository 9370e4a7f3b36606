package basic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"

	"hayatos/errors"
	httpx "hayatos/http"
)

const defaultMaxBodyBytes = 1 << 20

// HttpContext net/http 上的 IHttpContext 实现
type HttpContext struct {
	request  *http.Request
	writer   http.ResponseWriter
	params   map[string]string
	body     []byte
	bodyRead bool
	maxBody  int64
	status   int
	aborted  bool
	values   map[string]any
}

var _ httpx.IHttpContext = (*HttpContext)(nil)

// NewBaseHttpContext 创建请求上下文
func NewBaseHttpContext(w http.ResponseWriter, r *http.Request) *HttpContext {
	return &HttpContext{
		request: r,
		writer:  w,
		params:  make(map[string]string),
		maxBody: defaultMaxBodyBytes,
		status:  http.StatusOK,
		values:  make(map[string]any),
	}
}

func (c *HttpContext) GetMethod() string           { return c.request.Method }
func (c *HttpContext) GetPath() string             { return c.request.URL.Path }
func (c *HttpContext) GetQuery(key string) string  { return c.request.URL.Query().Get(key) }
func (c *HttpContext) GetQueryParams() url.Values  { return c.request.URL.Query() }
func (c *HttpContext) GetParam(key string) string  { return c.params[key] }
func (c *HttpContext) GetHeader(key string) string { return c.request.Header.Get(key) }
func (c *HttpContext) GetRequest() *http.Request   { return c.request }
func (c *HttpContext) UserAgent() string           { return c.request.UserAgent() }

// SetParam 设置路径参数
func (c *HttpContext) SetParam(key, value string) { c.params[key] = value }

// ClientIP 远端地址（去掉端口）
func (c *HttpContext) ClientIP() string {
	host, _, err := net.SplitHostPort(c.request.RemoteAddr)
	if err != nil {
		return c.request.RemoteAddr
	}
	return host
}

// GetBody 读取并缓存请求体，超过上限返回 INVALID_INPUT
func (c *HttpContext) GetBody() ([]byte, error) {
	if c.bodyRead {
		return c.body, nil
	}
	c.bodyRead = true
	if c.request.Body == nil {
		return nil, nil
	}
	defer c.request.Body.Close()
	body, err := io.ReadAll(io.LimitReader(c.request.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to read request body")
	}
	if int64(len(body)) > c.maxBody {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "request body too large")
	}
	c.body = body
	return body, nil
}

// BindJSON 解码 JSON 请求体，拒绝未知字段
func (c *HttpContext) BindJSON(obj any) error {
	body, err := c.GetBody()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to parse JSON")
	}
	return nil
}

func (c *HttpContext) SetStatus(code int)          { c.status = code }
func (c *HttpContext) Status() int                 { return c.status }
func (c *HttpContext) SetHeader(key, value string) { c.writer.Header().Set(key, value) }

func (c *HttpContext) JSON(code int, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "failed to serialize JSON")
	}
	return c.Data(code, "application/json", data)
}

func (c *HttpContext) String(code int, text string) error {
	return c.Data(code, "text/plain; charset=utf-8", []byte(text))
}

func (c *HttpContext) Data(code int, contentType string, data []byte) error {
	c.SetHeader("Content-Type", contentType)
	c.status = code
	c.writer.WriteHeader(code)
	c.values[httpx.ResponseWritten] = true
	_, err := c.writer.Write(data)
	return err
}

func (c *HttpContext) NoContent() error {
	c.status = http.StatusNoContent
	c.writer.WriteHeader(http.StatusNoContent)
	c.values[httpx.ResponseWritten] = true
	return nil
}

func (c *HttpContext) GetContext() context.Context { return c.request.Context() }

func (c *HttpContext) SetContext(ctx context.Context) {
	if ctx != nil {
		c.request = c.request.WithContext(ctx)
	}
}

func (c *HttpContext) Set(key string, value any) { c.values[key] = value }

func (c *HttpContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *HttpContext) Abort()          { c.aborted = true }
func (c *HttpContext) IsAborted() bool { return c.aborted }

func (c *HttpContext) written() bool {
	v, _ := c.values[httpx.ResponseWritten].(bool)
	return v
}
