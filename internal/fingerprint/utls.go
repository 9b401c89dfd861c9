package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names the TLS ClientHello presented to article hosts.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard crypto/tls
	ProfileRandom  Profile = "random" // randomized uTLS hello without ALPN
)

// ParseProfile maps a configuration value to a Profile. Empty means ProfileGo.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return ProfileGo, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	}
	return "", fmt.Errorf("unknown tls profile %q", s)
}

type options struct {
	proxy    func(*http.Request) (*url.URL, error)
	insecure bool
}

// Option customizes NewTransport.
type Option func(*options)

// WithProxy routes requests through proxy.
func WithProxy(proxy func(*http.Request) (*url.URL, error)) Option {
	return func(o *options) { o.proxy = proxy }
}

// WithInsecureSkipVerify disables certificate verification. Only for tests
// against self-signed servers.
func WithInsecureSkipVerify() Option {
	return func(o *options) { o.insecure = true }
}

// NewTransport returns a RoundTripper presenting profile's ClientHello.
// Browser hellos are pinned to http/1.1 via ALPN since http.Transport cannot
// speak h2 over a custom dialed connection.
func NewTransport(profile Profile, opts ...Option) (http.RoundTripper, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if o.proxy != nil {
		transport.Proxy = o.proxy
	}

	if profile == ProfileGo || profile == "" {
		if o.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		return transport, nil
	}

	newConn, err := helloFactory(profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		cfg := &utls.Config{ServerName: host, InsecureSkipVerify: o.insecure} //nolint:gosec
		uConn, err := newConn(tcpConn, cfg)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

type connFactory func(net.Conn, *utls.Config) (*utls.UConn, error)

func helloFactory(profile Profile) (connFactory, error) {
	var id utls.ClientHelloID
	switch profile {
	case ProfileChrome:
		id = utls.HelloChrome_Auto
	case ProfileFirefox:
		id = utls.HelloFirefox_Auto
	case ProfileSafari:
		id = utls.HelloIOS_Auto
	case ProfileRandom:
		return func(c net.Conn, cfg *utls.Config) (*utls.UConn, error) {
			return utls.UClient(c, cfg, utls.HelloRandomizedNoALPN), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown tls profile %q", profile)
	}

	return func(c net.Conn, cfg *utls.Config) (*utls.UConn, error) {
		spec, err := utls.UTLSIdToSpec(id)
		if err != nil {
			return nil, fmt.Errorf("build %s hello: %w", profile, err)
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}
		uConn := utls.UClient(c, cfg, utls.HelloCustom)
		if err := uConn.ApplyPreset(&spec); err != nil {
			return nil, fmt.Errorf("apply %s hello: %w", profile, err)
		}
		return uConn, nil
	}, nil
}
