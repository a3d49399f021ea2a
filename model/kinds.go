package model

import (
	"fmt"
	"strings"
)

// AdapterKind identifies an HTTP back-end. The numeric values are part of the
// wire contract and must not be renumbered.
type AdapterKind int32

const (
	AdapterFingerprint      AdapterKind = 0
	AdapterPlain            AdapterKind = 1
	AdapterRequests         AdapterKind = 2
	AdapterDrissionPage     AdapterKind = 3
	AdapterUndetectedChrome AdapterKind = 4
	AdapterPlaywright       AdapterKind = 5
)

var adapterNames = map[AdapterKind]string{
	AdapterFingerprint:      "fingerprint",
	AdapterPlain:            "plain",
	AdapterRequests:         "requests",
	AdapterDrissionPage:     "drissionpage",
	AdapterUndetectedChrome: "undetected_chrome",
	AdapterPlaywright:       "playwright",
}

// aliases accepted by ParseAdapterKind in addition to the canonical names.
var adapterAliases = map[string]AdapterKind{
	"curl_cffi": AdapterFingerprint,
	"utls":      AdapterFingerprint,
	"httpx":     AdapterPlain,
	"http":      AdapterPlain,
	"uc":        AdapterUndetectedChrome,
}

func (k AdapterKind) String() string {
	if n, ok := adapterNames[k]; ok {
		return n
	}
	return fmt.Sprintf("adapter(%d)", int32(k))
}

// Known reports whether the value is declared by the wire contract.
func (k AdapterKind) Known() bool {
	_, ok := adapterNames[k]
	return ok
}

// ParseAdapterKind accepts canonical names, common aliases, and numbers.
func ParseAdapterKind(s string) (AdapterKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range adapterNames {
		if n == name {
			return k, nil
		}
	}
	if k, ok := adapterAliases[name]; ok {
		return k, nil
	}
	var n int32
	if _, err := fmt.Sscanf(name, "%d", &n); err == nil && AdapterKind(n).Known() {
		return AdapterKind(n), nil
	}
	return 0, fmt.Errorf("unknown adapter %q", s)
}

// Method is the HTTP verb. Wire-stable like AdapterKind.
type Method int32

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodHead
	MethodOptions
	MethodTrace
)

var methodNames = [...]string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("METHOD(%d)", int32(m))
}

// Valid reports whether m is one of the eight declared verbs.
func (m Method) Valid() bool {
	return m >= 0 && int(m) < len(methodNames)
}

// ParseMethod is case-insensitive.
func ParseMethod(s string) (Method, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range methodNames {
		if n == up {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("unknown method %q", s)
}
