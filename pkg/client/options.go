package client

import (
	"crypto/tls"
	"net/http"
	"time"
)

type Options struct {
	ignoreTLSCert       bool
	APIKey              string
	Timeout             time.Duration
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

type Option func(*Options) error

func defaultOptions() *Options {
	return &Options{
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

func (o *Options) httpClient() *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     o.MaxConnsPerHost,
		MaxIdleConnsPerHost: o.MaxIdleConnsPerHost,
		IdleConnTimeout:     o.IdleConnTimeout,
	}
	if o.ignoreTLSCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   o.Timeout,
		Transport: transport,
	}
}

func IgnoreTLSCert() Option {
	return func(o *Options) error {
		o.ignoreTLSCert = true
		return nil
	}
}

// APIKey sets the API key for authentication
func APIKey(key string) Option {
	return func(o *Options) error {
		o.APIKey = key
		return nil
	}
}

func Timeout(timeout time.Duration) Option {
	return func(o *Options) error {
		o.Timeout = timeout
		return nil
	}
}

func MaxConnsPerHost(n int) Option {
	return func(o *Options) error {
		o.MaxConnsPerHost = n
		return nil
	}
}

func MaxIdleConnsPerHost(n int) Option {
	return func(o *Options) error {
		o.MaxIdleConnsPerHost = n
		return nil
	}
}

func IdleConnTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.IdleConnTimeout = d
		return nil
	}
}
