// Package httpclient provides the HTTP client used by network adapters. By
// default it refuses to reach loopback, private and link-local addresses so a
// pipeline definition cannot reach services on the host's network.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/plumb/errors"
)

// ErrBlocked marks requests refused by the address policy
var ErrBlocked = errors.New("destination blocked")

// Options configures a Client
type Options struct {
	Timeout      time.Duration
	AllowPrivate bool // Permit loopback/private destinations (local services, tests)
	MaxRedirects int  // 0 = 10
}

// Client wraps http.Client with scheme and destination checks
type Client struct {
	http         *http.Client
	allowPrivate bool
	maxRedirects int
}

// New creates a Client
func New(opts Options) *Client {
	c := &Client{
		allowPrivate: opts.AllowPrivate,
		maxRedirects: opts.MaxRedirects,
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 10
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !c.allowPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		// Check resolved addresses at dial time, which also covers DNS rebinding
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if isRestricted(ip) {
					return nil, errors.Wrapf(ErrBlocked, "address %s", ip)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}

	c.http = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.maxRedirects {
				return errors.Newf("stopped after %d redirects", c.maxRedirects)
			}
			return errors.Wrap(c.check(req.URL), "redirect blocked")
		},
	}
	return c
}

// Do validates the request URL and executes it
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// HTTP returns the underlying client for libraries that issue their own
// requests. Callers should ValidateURL first: only redirects and dials are
// checked on this path.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// ValidateURL parses and checks a URL without sending anything
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "invalid URL %q: %v", raw, err)
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q", u.Scheme)
	}
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "credentials in URL")
	}
	host := u.Hostname()
	if host == "" {
		return errors.NewValidationError("URL %q has no host", u.String())
	}
	if c.allowPrivate {
		return nil
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return errors.Wrapf(ErrBlocked, "host %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && isRestricted(ip) {
		return errors.Wrapf(ErrBlocked, "address %s", host)
	}
	return nil
}

// isRestricted covers loopback, RFC 1918 / unique-local, link-local,
// multicast, unspecified, 0.0.0.0/8 and the IPv4 reserved block.
func isRestricted(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 0 || ip4[0] >= 240
	}
	return false
}
