package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"ipclick/internal/shared/logger"
	"ipclick/model"
)

// fingerprintAdapter presents a browser TLS ClientHello via uTLS and speaks
// HTTP/2 or HTTP/1.1 according to ALPN, like the browser it imitates.
type fingerprintAdapter struct {
	opts   Options
	logger zerolog.Logger
	pool   *transportPool[*utlsTransport]
}

func newFingerprintAdapter(opts Options) *fingerprintAdapter {
	return &fingerprintAdapter{
		opts:   opts,
		logger: logger.WithComponent("adapter.fingerprint"),
		pool:   newTransportPool[*utlsTransport](maxPooledTransports),
	}
}

func (a *fingerprintAdapter) Kind() model.AdapterKind { return model.AdapterFingerprint }
func (a *fingerprintAdapter) Defaults() Options       { return a.opts }

func (a *fingerprintAdapter) Execute(ctx context.Context, req *Request) (*model.Response, error) {
	t := req.Task
	eff := resolve(t, a.opts)

	profile, known := LookupProfile(eff.impersonate)
	if !known {
		a.logger.Warn().Str("impersonate", eff.impersonate).Msg("Unknown impersonation label, using chrome")
	}

	key := poolKey{proxy: req.ProxyURL, insecure: !eff.verify, profile: profile.Name, http1: eff.forceHTTP1}
	rt, err := a.pool.get(key, func() (*utlsTransport, error) {
		return newUTLSTransport(req.ProxyURL, profile, !eff.verify, eff.forceHTTP1, eff.timeout)
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, eff.timeout)
	defer cancel()

	httpReq, err := buildRequest(ctx, t, profile.Headers, eff.userAgent)
	if err != nil {
		return nil, err
	}
	return do(newClient(rt, eff.redirects), httpReq, eff.maxBody)
}

func (a *fingerprintAdapter) Close() error {
	a.pool.closeAll()
	return nil
}

// utlsTransport routes https requests over uTLS connections, picking the
// HTTP/2 or HTTP/1.1 transport by the protocol each host negotiated.
// Plain http requests use a regular transport.
type utlsTransport struct {
	profile  Profile
	insecure bool
	forceH1  bool
	dialer   ContextDialer

	h1    *http.Transport
	h2    *http2.Transport
	plain *http.Transport

	mu sync.Mutex
	// alpn remembers what each host:port negotiated.
	alpn map[string]string
	// pending holds the probe connection from negotiate until a transport
	// asks for a connection to the same address.
	pending map[string]net.Conn
}

func newUTLSTransport(proxyRaw string, profile Profile, insecure, forceH1 bool, connectTimeout time.Duration) (*utlsTransport, error) {
	proxyURL, err := parseProxyURL(proxyRaw)
	if err != nil {
		return nil, err
	}
	dialer, err := newDialer(proxyURL, connectTimeout)
	if err != nil {
		return nil, err
	}

	t := &utlsTransport{
		profile:  profile,
		insecure: insecure,
		forceH1:  forceH1,
		dialer:   dialer,
		alpn:     make(map[string]string),
		pending:  make(map[string]net.Conn),
	}
	t.h1 = &http.Transport{
		DialTLSContext:      t.dialTLS,
		DisableCompression:  true,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return t.dialTLS(ctx, network, addr)
		},
		DisableCompression: true,
		IdleConnTimeout:    90 * time.Second,
	}
	t.plain = &http.Transport{
		DialContext:         dialer.DialContext,
		DisableCompression:  true,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
		// Plain-http targets go through the proxy in absolute-form, not CONNECT.
		t.plain.Proxy = http.ProxyURL(proxyURL)
		t.plain.DialContext = countingDialer{&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}}.DialContext
	}
	return t, nil
}

func (t *utlsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}
	addr := canonicalAddr(req.URL)
	proto, err := t.negotiate(req.Context(), addr)
	if err != nil {
		return nil, err
	}
	if proto == http2.NextProtoTLS {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

func (t *utlsTransport) negotiate(ctx context.Context, addr string) (string, error) {
	t.mu.Lock()
	proto, ok := t.alpn[addr]
	t.mu.Unlock()
	if ok {
		return proto, nil
	}

	conn, proto, err := t.handshake(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if known, ok := t.alpn[addr]; ok {
		// Lost a race with another request to the same host.
		conn.Close()
		return known, nil
	}
	t.alpn[addr] = proto
	t.pending[addr] = conn
	return proto, nil
}

func (t *utlsTransport) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.pending[addr]; ok {
		delete(t.pending, addr)
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	conn, _, err := t.handshake(ctx, network, addr)
	return conn, err
}

func (t *utlsTransport) handshake(ctx context.Context, network, addr string) (net.Conn, string, error) {
	rawConn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, "", fmt.Errorf("dial: %w", err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	cfg := &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.insecure,
	}
	uconn := utls.UClient(rawConn, cfg, t.profile.HelloID)

	if t.forceH1 {
		if err := uconn.BuildHandshakeState(); err != nil {
			rawConn.Close()
			return nil, "", fmt.Errorf("build handshake state: %w", err)
		}
		for i, ext := range uconn.Extensions {
			if _, ok := ext.(*utls.ALPNExtension); ok {
				uconn.Extensions[i] = &utls.ALPNExtension{AlpnProtocols: []string{"http/1.1"}}
			}
		}
		if err := uconn.BuildHandshakeState(); err != nil {
			rawConn.Close()
			return nil, "", fmt.Errorf("build handshake state: %w", err)
		}
	}

	if err := uconn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, "", fmt.Errorf("tls handshake: %w", err)
	}

	proto := uconn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = "http/1.1"
	}
	return uconn, proto, nil
}

func (t *utlsTransport) Close() error {
	t.h1.CloseIdleConnections()
	t.h2.CloseIdleConnections()
	t.plain.CloseIdleConnections()

	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, conn := range t.pending {
		conn.Close()
		delete(t.pending, addr)
	}
	return nil
}

func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
