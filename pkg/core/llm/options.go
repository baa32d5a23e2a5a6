package llm

import (
	"net/http"
	"time"

	"github.com/easyops/ctxwindow-go/pkg/core/errors"
)

const (
	defaultProviderName = "openai"
	defaultModel        = "gpt-4o"
)

// Options 客户端参数
//
// Temperature 和 MaxTokens 只在请求未显式指定时生效。
type Options struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	Model        string

	Timeout    time.Duration
	MaxRetries int
	// RetryDelay 退避基数，第 n 次重试等待 RetryDelay*2^n
	RetryDelay time.Duration

	Temperature float64
	MaxTokens   int

	// HTTPClient 为空时使用 go-openai 的默认客户端
	HTTPClient *http.Client
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// resolve 应用选项并补齐名称和模型；既无密钥又无自定义端点时报错
func resolve(opts []Option) (*Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.APIKey == "" && o.BaseURL == "" {
		return nil, errors.ErrInvalidAPIKey
	}
	if o.ProviderName == "" {
		o.ProviderName = defaultProviderName
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	return o, nil
}

func WithProviderName(name string) Option   { return func(o *Options) { o.ProviderName = name } }
func WithAPIKey(key string) Option          { return func(o *Options) { o.APIKey = key } }
func WithBaseURL(url string) Option         { return func(o *Options) { o.BaseURL = url } }
func WithModel(model string) Option         { return func(o *Options) { o.Model = model } }
func WithTimeout(d time.Duration) Option    { return func(o *Options) { o.Timeout = d } }
func WithMaxRetries(n int) Option           { return func(o *Options) { o.MaxRetries = n } }
func WithRetryDelay(d time.Duration) Option { return func(o *Options) { o.RetryDelay = d } }
func WithTemperature(t float64) Option      { return func(o *Options) { o.Temperature = t } }
func WithMaxTokens(n int) Option            { return func(o *Options) { o.MaxTokens = n } }
func WithHTTPClient(c *http.Client) Option  { return func(o *Options) { o.HTTPClient = c } }
