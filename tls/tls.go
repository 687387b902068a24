package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout   = 3 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; certwatch/1.0)"
)

// Result holds the leaf certificate metadata captured during the handshake
// with the configured authority.
type Result struct {
	Authority  string
	NotAfter   time.Time
	NotBefore  time.Time
	Issuer     string
	Subject    string
	DNSNames   []string
	StatusCode int
}

// Fetcher retrieves the certificate presented by an HTTPS endpoint. Chain
// validation is disabled: the certificate is read, never trusted.
type Fetcher struct {
	Timeout   time.Duration
	UserAgent string

	// Proxy is used by the underlying transport. Nil means no proxy. Only
	// http:// proxies are accepted, a TLS proxy would present its own
	// certificate first.
	Proxy func(*http.Request) (*url.URL, error)
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Fetcher{
		Timeout:   timeout,
		UserAgent: DefaultUserAgent,
	}
}

// Authority returns scheme://host[:port] for rawURL. A missing scheme
// defaults to https.
func Authority(rawURL string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}

	return u.Scheme + "://" + u.Host, nil
}

// Normalize returns rawURL with a scheme, so "example.com" becomes
// "https://example.com".
func Normalize(rawURL string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}

	return u.String(), nil
}

func parse(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("empty url")
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, rawURL)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %s", rawURL)
	}

	return u, nil
}

// Fetch requests rawURL and returns the leaf certificate of the first TLS
// connection. Errors are one of *TimeoutError, *NoCertificateError,
// *RequestFailedError or *TransportError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := parse(rawURL)
	if err != nil {
		return nil, &TransportError{Authority: rawURL, Err: err}
	}

	authority := u.Scheme + "://" + u.Host

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var leaf *x509.Certificate

	transport := &http.Transport{
		Proxy: plainProxy(f.Proxy),
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // the certificate is only read
			VerifyConnection: func(cs tls.ConnectionState) error {
				// Redirects open new connections; keep the configured host's certificate.
				if leaf == nil && len(cs.PeerCertificates) > 0 {
					leaf = cs.PeerCertificates[0]
				}

				return nil
			},
		},
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Authority: authority, Err: err}
	}

	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Authority: authority, Err: err}
		}

		return nil, &TransportError{Authority: authority, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	var result *Result
	if leaf != nil {
		result = newResult(authority, leaf)
		result.StatusCode = resp.StatusCode

		logrus.Debugf("Authority %s, notAfter %s, issuer %s, subject %s", authority, leaf.NotAfter, leaf.Issuer, leaf.Subject)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, &RequestFailedError{Authority: authority, StatusCode: resp.StatusCode, Result: result}
	}

	if result == nil {
		return nil, &NoCertificateError{Authority: authority}
	}

	return result, nil
}

func plainProxy(proxy func(*http.Request) (*url.URL, error)) func(*http.Request) (*url.URL, error) {
	if proxy == nil {
		return nil
	}

	return func(req *http.Request) (*url.URL, error) {
		p, err := proxy(req)
		if err != nil || p == nil {
			return p, err
		}

		if p.Scheme != "http" {
			return nil, fmt.Errorf("proxy %s: scheme %q is not supported", p.Host, p.Scheme)
		}

		return p, nil
	}
}

func newResult(authority string, cert *x509.Certificate) *Result {
	return &Result{
		Authority: authority,
		NotAfter:  cert.NotAfter.UTC(),
		NotBefore: cert.NotBefore.UTC(),
		Issuer:    issuerName(cert),
		Subject:   cert.Subject.CommonName,
		DNSNames:  cert.DNSNames,
	}
}

func issuerName(cert *x509.Certificate) string {
	if len(cert.Issuer.Organization) > 0 {
		return strings.Join(cert.Issuer.Organization, ", ")
	}

	return cert.Issuer.CommonName
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}

	return err
}
