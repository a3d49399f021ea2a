package adapter

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"ipclick/model"
)

const plainUserAgent = "ipclick/1.0"

var plainHeaders = [][2]string{
	{"User-Agent", plainUserAgent},
	{"Accept", "*/*"},
	{"Accept-Encoding", acceptEncoding},
}

// plainAdapter uses net/http with Go's own TLS stack. It ignores
// impersonation hints.
type plainAdapter struct {
	opts Options
	pool *transportPool[*plainTransport]
}

func newPlainAdapter(opts Options) *plainAdapter {
	return &plainAdapter{
		opts: opts,
		pool: newTransportPool[*plainTransport](maxPooledTransports),
	}
}

func (a *plainAdapter) Kind() model.AdapterKind { return model.AdapterPlain }
func (a *plainAdapter) Defaults() Options       { return a.opts }

func (a *plainAdapter) Execute(ctx context.Context, req *Request) (*model.Response, error) {
	t := req.Task
	eff := resolve(t, a.opts)

	key := poolKey{proxy: req.ProxyURL, insecure: !eff.verify, http1: eff.forceHTTP1}
	rt, err := a.pool.get(key, func() (*plainTransport, error) {
		return newPlainTransport(req.ProxyURL, !eff.verify, eff.forceHTTP1, eff.timeout)
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, eff.timeout)
	defer cancel()

	httpReq, err := buildRequest(ctx, t, plainHeaders, eff.userAgent)
	if err != nil {
		return nil, err
	}
	return do(newClient(rt, eff.redirects), httpReq, eff.maxBody)
}

func (a *plainAdapter) Close() error {
	a.pool.closeAll()
	return nil
}

type plainTransport struct {
	*http.Transport
}

func newPlainTransport(proxyRaw string, insecure, forceH1 bool, connectTimeout time.Duration) (*plainTransport, error) {
	proxyURL, err := parseProxyURL(proxyRaw)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		DialContext: countingDialer{&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}}.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure},
		ForceAttemptHTTP2:     !forceH1,
		DisableCompression:    true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if proxyURL != nil {
		switch proxyURL.Scheme {
		case "http", "https", "socks5", "socks5h":
			tr.Proxy = http.ProxyURL(proxyURL)
		default:
			// Let the dialer report the unsupported scheme.
			if _, err := newDialer(proxyURL, connectTimeout); err != nil {
				return nil, err
			}
		}
	}
	if forceH1 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &plainTransport{Transport: tr}, nil
}

func (t *plainTransport) Close() error {
	t.CloseIdleConnections()
	return nil
}
