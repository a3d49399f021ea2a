package adapter

import (
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile is a browser identity: a TLS ClientHello plus the headers that
// browser sends by default.
type Profile struct {
	Name    string
	HelloID utls.ClientHelloID
	Headers [][2]string // ordered
}

const (
	uaChrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaFirefox = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0"
	uaSafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	uaIOS     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	uaAndroid = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"

	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	// acceptEncoding lists what decodeBody understands.
	acceptEncoding = "gzip, deflate, br, zstd"
)

func chromiumHeaders(ua string) [][2]string {
	return [][2]string{
		{"User-Agent", ua},
		{"Accept", acceptHTML},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Accept-Encoding", acceptEncoding},
		{"Upgrade-Insecure-Requests", "1"},
	}
}

func geckoHeaders(ua string) [][2]string {
	return [][2]string{
		{"User-Agent", ua},
		{"Accept", acceptHTML},
		{"Accept-Language", "en-US,en;q=0.5"},
		{"Accept-Encoding", acceptEncoding},
		{"Upgrade-Insecure-Requests", "1"},
	}
}

var profiles = map[string]Profile{
	"chrome":     {Name: "chrome", HelloID: utls.HelloChrome_Auto, Headers: chromiumHeaders(uaChrome)},
	"chrome120":  {Name: "chrome120", HelloID: utls.HelloChrome_120, Headers: chromiumHeaders(uaChrome)},
	"firefox":    {Name: "firefox", HelloID: utls.HelloFirefox_Auto, Headers: geckoHeaders(uaFirefox)},
	"firefox120": {Name: "firefox120", HelloID: utls.HelloFirefox_120, Headers: geckoHeaders(uaFirefox)},
	"safari":     {Name: "safari", HelloID: utls.HelloSafari_Auto, Headers: geckoHeaders(uaSafari)},
	"ios":        {Name: "ios", HelloID: utls.HelloIOS_Auto, Headers: geckoHeaders(uaIOS)},
	"edge":       {Name: "edge", HelloID: utls.HelloEdge_Auto, Headers: chromiumHeaders(uaEdge)},
	"android":    {Name: "android", HelloID: utls.HelloAndroid_11_OkHttp, Headers: chromiumHeaders(uaAndroid)},
	"randomized": {Name: "randomized", HelloID: utls.HelloRandomized, Headers: chromiumHeaders(uaChrome)},
}

// LookupProfile resolves an impersonation label. Labels are matched
// case-insensitively; versioned labels like "chrome131" fall back to their
// family. ok is false when the label was not recognized and the default
// chrome profile was returned instead.
func LookupProfile(label string) (Profile, bool) {
	name := strings.ToLower(strings.TrimSpace(label))
	if name == "" {
		return profiles["chrome"], true
	}
	if p, ok := profiles[name]; ok {
		return p, true
	}
	family := strings.TrimRight(name, "0123456789_.")
	if p, ok := profiles[family]; ok {
		return p, true
	}
	return profiles["chrome"], false
}

// ProfileNames lists the recognized labels.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	return names
}
