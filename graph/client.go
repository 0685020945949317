package graph

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/aadsso/aadsso/internal/httputil"
)

// Client issues requests to the provider's token endpoint and directory API.
type Client struct {
	client *http.Client
	logger hclog.Logger
}

// NewClient creates a Client.
// Supported options:
//
//	WithLogger
//	WithProviderCA
//	WithHTTPClient
func NewClient(opt ...Option) (*Client, error) {
	const op = "graph.NewClient"
	opts := getClientOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = httputil.NewClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidParameter)
		}
	}

	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type clientOptions struct {
	withLogger     hclog.Logger
	withProviderCA string
	withHTTPClient *http.Client
}

func clientDefaults() clientOptions {
	return clientOptions{}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the client.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLogger = l
		}
	}
}

// WithProviderCA provides an optional CA cert to trust when sending requests
// to the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithHTTPClient provides an optional http client, overriding the default
// pooled one. Typically only set by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withHTTPClient = c
		}
	}
}
