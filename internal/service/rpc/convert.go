package rpc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"ipclick/internal/core/dispatcher"
	"ipclick/model"
)

// TaskToMessage encodes t for the wire.
func TaskToMessage(t *model.Task) (*TaskMessage, error) {
	m := &TaskMessage{
		UUID:             t.UUID,
		Adapter:          int32(t.Adapter),
		Method:           int32(t.Method),
		URL:              t.URL,
		Headers:          t.Headers,
		Cookies:          t.Cookies,
		Data:             t.Data,
		TimeoutSeconds:   t.Timeout.Seconds(),
		MaxRetries:       int32(t.MaxRetries),
		VerifySSL:        t.VerifyTLS,
		AllowRedirects:   t.AllowRedirects,
		Stream:           t.Stream,
		Impersonate:      t.Impersonate,
		Extensions:       t.Extensions,
		AutomationConfig: t.AutomationConfig,
		AutomationScript: t.AutomationScript,
	}

	if len(t.Params) > 0 {
		raw, err := json.Marshal(map[string][]string(t.Params))
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		m.Params = string(raw)
	}
	if t.JSON != nil {
		raw, err := json.Marshal(t.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		m.JSON = string(raw)
	}
	if len(t.Kwargs) > 0 {
		raw, err := json.Marshal(t.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("encode kwargs: %w", err)
		}
		m.Kwargs = string(raw)
	}

	if addr, ok := t.Proxy.Address(); ok {
		m.ProxyURL = addr
	} else if d, ok := t.Proxy.Descriptor(); ok {
		m.ProxyInfo = &ProxyInfo{
			Scheme:       d.Scheme,
			Host:         d.Host,
			Port:         int32(d.Port),
			AuthKey:      d.AuthKey,
			AuthSecret:   d.AuthSecret,
			Channel:      d.ChannelName,
			SessionTTL:   int32(d.SessionTTL),
			CountryCode:  d.CountryCode,
			TunnelServer: d.TunnelServer,
		}
	} else if t.Proxy.UsesDefault() {
		m.UseDefaultProxy = true
	}

	if t.RetryBackoff != nil {
		low, high := t.RetryBackoff.Min.Seconds(), t.RetryBackoff.Max.Seconds()
		m.RetryBackoffSeconds = &low
		if high != low {
			m.RetryBackoffMaxSeconds = &high
		}
	}

	for _, c := range t.AllowedStatusCodes {
		m.AllowedStatusCodes = append(m.AllowedStatusCodes, int32(c))
	}
	return m, nil
}

// TaskFromMessage decodes m and normalizes the result. When the fields fail
// validation the partially built task is returned together with the error so
// the caller can still report against its uuid and url.
func TaskFromMessage(m *TaskMessage) (*model.Task, error) {
	t := &model.Task{
		UUID:             m.UUID,
		Adapter:          model.AdapterKind(m.Adapter),
		Method:           model.Method(m.Method),
		URL:              m.URL,
		Headers:          m.Headers,
		Cookies:          m.Cookies,
		Timeout:          model.DefaultTimeout,
		MaxRetries:       int(m.MaxRetries),
		VerifyTLS:        m.VerifySSL,
		AllowRedirects:   m.AllowRedirects,
		Stream:           m.Stream,
		Impersonate:      m.Impersonate,
		Extensions:       m.Extensions,
		AutomationConfig: m.AutomationConfig,
		AutomationScript: m.AutomationScript,
	}
	if len(m.Data) > 0 {
		t.Data = m.Data
	}
	if m.TimeoutSeconds != 0 {
		t.Timeout = seconds(m.TimeoutSeconds)
	}

	switch {
	case m.ProxyInfo != nil:
		t.Proxy = model.ProxyFromDescriptor(model.ProxyDescriptor{
			Scheme:       m.ProxyInfo.Scheme,
			Host:         m.ProxyInfo.Host,
			Port:         int(m.ProxyInfo.Port),
			AuthKey:      m.ProxyInfo.AuthKey,
			AuthSecret:   m.ProxyInfo.AuthSecret,
			ChannelName:  m.ProxyInfo.Channel,
			SessionTTL:   int(m.ProxyInfo.SessionTTL),
			CountryCode:  m.ProxyInfo.CountryCode,
			TunnelServer: m.ProxyInfo.TunnelServer,
		})
	case m.UseDefaultProxy:
		t.Proxy = model.UseDefaultProxy(true)
	default:
		t.Proxy = model.ProxyAddress(m.ProxyURL)
	}

	if m.RetryBackoffSeconds != nil {
		d := model.FixedDelay(seconds(*m.RetryBackoffSeconds))
		if m.RetryBackoffMaxSeconds != nil {
			d.Max = seconds(*m.RetryBackoffMaxSeconds)
		}
		t.RetryBackoff = &d
	}

	for _, c := range m.AllowedStatusCodes {
		t.AllowedStatusCodes = append(t.AllowedStatusCodes, int(c))
	}

	if m.Params != "" {
		params, err := decodeParams(m.Params)
		if err != nil {
			return t, &model.ValidationError{Field: "params", Reason: err.Error()}
		}
		t.Params = params
	}
	if m.JSON != "" {
		if !json.Valid([]byte(m.JSON)) {
			return t, &model.ValidationError{Field: "json", Reason: "not a valid JSON document"}
		}
		t.JSON = json.RawMessage(m.JSON)
	}
	if m.Kwargs != "" {
		if err := json.Unmarshal([]byte(m.Kwargs), &t.Kwargs); err != nil {
			return t, &model.ValidationError{Field: "kwargs", Reason: "must be a JSON object of strings"}
		}
	}

	return t, t.Normalize()
}

// decodeParams accepts {"k": "v"} and {"k": ["v1", "v2"]} values.
func decodeParams(s string) (url.Values, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make(url.Values, len(raw))
	for k, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out.Add(k, one)
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return nil, fmt.Errorf("value of %q must be a string or a list of strings", k)
		}
		out[k] = append(out[k], many...)
	}
	return out, nil
}

// ResultToMessage builds the reply for a dispatch result. req is echoed back
// as original_request.
func ResultToMessage(res *dispatcher.Result, req *TaskMessage) *ResponseMessage {
	out := &ResponseMessage{
		RequestUUID:     req.UUID,
		Adapter:         int32(res.Adapter),
		OriginalRequest: req,
		ResponseTimeMs:  res.Elapsed.Milliseconds(),
	}
	if res.TaskUUID != "" {
		out.RequestUUID = res.TaskUUID
	}
	if r := res.Response; r != nil {
		out.EffectiveURL = r.URL
		out.StatusCode = int32(r.StatusCode)
		out.ResponseHeaders = validHeaders(r.Headers)
		out.Content = r.Content
		out.ErrorMessage = strings.ToValidUTF8(r.ErrorMessage, "\uFFFD")
		out.AdapterElapsedMs = r.Elapsed.Milliseconds()
	}
	return out
}

// validHeaders replaces invalid UTF-8 in upstream header values, which
// proto3 string fields refuse to carry.
func validHeaders(h map[string]string) map[string]string {
	clean := true
	for k, v := range h {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			clean = false
			break
		}
	}
	if clean {
		return h
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToValidUTF8(k, "\uFFFD")] = strings.ToValidUTF8(v, "\uFFFD")
	}
	return out
}

// ResponseFromMessage rebuilds the unified response carried by m.
func ResponseFromMessage(m *ResponseMessage) *model.Response {
	headers := m.ResponseHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	return &model.Response{
		URL:          m.EffectiveURL,
		StatusCode:   int(m.StatusCode),
		Content:      m.Content,
		Headers:      headers,
		Elapsed:      time.Duration(m.AdapterElapsedMs) * time.Millisecond,
		ErrorMessage: m.ErrorMessage,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
