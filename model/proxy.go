package model

import (
	"errors"
	"strconv"
	"strings"
)

// ProxyDescriptor 描述一个隧道代理厂商的凭据。
// 通道、会话TTL和国家代码都被编码进用户名字段，厂商网关据此选择出口IP。
type ProxyDescriptor struct {
	Scheme       string `json:"scheme,omitempty" ini:"scheme"` // 默认 "http"
	Host         string `json:"host" ini:"host"`
	Port         int    `json:"port,omitempty" ini:"port"`
	AuthKey      string `json:"auth_key,omitempty" ini:"auth_key"`
	AuthSecret   string `json:"auth_secret,omitempty" ini:"auth_secret"`
	ChannelName  string `json:"channel,omitempty" ini:"channel"`
	SessionTTL   int    `json:"ttl,omitempty" ini:"ttl"` // 秒
	CountryCode  string `json:"country,omitempty" ini:"country"`
	TunnelServer string `json:"tunnel_server,omitempty" ini:"tunnel_server"` // 覆盖 host:port
}

// URL renders the descriptor. The second return is false when Host is empty.
func (d ProxyDescriptor) URL() (string, bool) {
	return BuildProxyURL(d)
}

// BuildProxyURL renders a descriptor in the vendor credential format:
//
//	scheme://[key:secret][:C<channel>][:T<ttl>][:A<country>]@target
//
// Segments are dropped when their source is empty or zero, and the '@' appears
// only when at least one segment is present. Nothing is escaped.
func BuildProxyURL(d ProxyDescriptor) (string, bool) {
	if d.Host == "" {
		return "", false
	}

	scheme := d.Scheme
	if scheme == "" {
		scheme = "http"
	}

	var user strings.Builder
	if d.AuthKey != "" {
		user.WriteString(d.AuthKey)
		user.WriteByte(':')
		user.WriteString(d.AuthSecret)
	}
	if d.ChannelName != "" {
		user.WriteString(":C")
		user.WriteString(d.ChannelName)
	}
	if d.SessionTTL != 0 {
		user.WriteString(":T")
		user.WriteString(strconv.Itoa(d.SessionTTL))
	}
	if d.CountryCode != "" {
		user.WriteString(":A")
		user.WriteString(d.CountryCode)
	}

	target := d.TunnelServer
	if target == "" {
		target = d.Host
		if d.Port != 0 {
			target += ":" + strconv.Itoa(d.Port)
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if user.Len() > 0 {
		b.WriteString(user.String())
		b.WriteByte('@')
	}
	b.WriteString(target)
	return b.String(), true
}

type proxyMode uint8

const (
	proxyNone proxyMode = iota
	proxyAddress
	proxyDescriptor
	proxyDefault
)

// ProxySpec is the proxy selection carried by a task: nothing, a literal
// address, a descriptor, or a request to use the service's configured default.
type ProxySpec struct {
	mode       proxyMode
	address    string
	descriptor ProxyDescriptor
}

// NoProxy sends the request directly.
func NoProxy() ProxySpec { return ProxySpec{} }

// ProxyAddress uses a literal proxy URL. An empty address means no proxy.
func ProxyAddress(addr string) ProxySpec {
	if addr == "" {
		return ProxySpec{}
	}
	return ProxySpec{mode: proxyAddress, address: addr}
}

// ProxyFromDescriptor defers URL synthesis until the task is dispatched.
func ProxyFromDescriptor(d ProxyDescriptor) ProxySpec {
	return ProxySpec{mode: proxyDescriptor, descriptor: d}
}

// UseDefaultProxy asks the service to apply its configured proxy. false is
// the same as NoProxy.
func UseDefaultProxy(use bool) ProxySpec {
	if !use {
		return ProxySpec{}
	}
	return ProxySpec{mode: proxyDefault}
}

// IsZero reports whether no proxy was requested.
func (p ProxySpec) IsZero() bool { return p.mode == proxyNone }

// UsesDefault reports the boolean form.
func (p ProxySpec) UsesDefault() bool { return p.mode == proxyDefault }

// Address returns the literal address, if that is the form in use.
func (p ProxySpec) Address() (string, bool) {
	return p.address, p.mode == proxyAddress
}

// Descriptor returns the descriptor, if that is the form in use.
func (p ProxySpec) Descriptor() (ProxyDescriptor, bool) {
	return p.descriptor, p.mode == proxyDescriptor
}

// ErrNoDefaultProxy is returned by Resolve when the default proxy was requested
// but the service has none configured.
var ErrNoDefaultProxy = errors.New("no default proxy configured")

// Resolve turns p into the proxy URL handed to an adapter. An empty
// string means a direct connection.
func (p ProxySpec) Resolve(def *ProxyDescriptor) (string, error) {
	switch p.mode {
	case proxyAddress:
		return p.address, nil
	case proxyDescriptor:
		u, ok := BuildProxyURL(p.descriptor)
		if !ok {
			return "", &ValidationError{Field: "proxy", Reason: "descriptor has no host"}
		}
		return u, nil
	case proxyDefault:
		if def == nil {
			return "", ErrNoDefaultProxy
		}
		u, ok := BuildProxyURL(*def)
		if !ok {
			return "", ErrNoDefaultProxy
		}
		return u, nil
	default:
		return "", nil
	}
}

// String is safe for logs: credentials are not included.
func (p ProxySpec) String() string {
	switch p.mode {
	case proxyAddress:
		return "address"
	case proxyDescriptor:
		return "descriptor(" + p.descriptor.Host + ")"
	case proxyDefault:
		return "default"
	default:
		return "none"
	}
}
