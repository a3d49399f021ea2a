package rpc

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ProxyInfo mirrors ipclick.ProxyInfo in api/proto/task.proto.
type ProxyInfo struct {
	Scheme       string
	Host         string
	Port         int32
	AuthKey      string
	AuthSecret   string
	Channel      string
	SessionTTL   int32
	CountryCode  string
	TunnelServer string
}

// TaskMessage mirrors ipclick.TaskMessage. Exactly one of ProxyInfo,
// UseDefaultProxy and ProxyURL is encoded, in that order of preference.
type TaskMessage struct {
	UUID    string
	Adapter int32
	Method  int32
	URL     string
	Headers map[string]string
	Cookies map[string]string
	Params  string
	Data    []byte
	JSON    string

	ProxyURL        string
	UseDefaultProxy bool
	ProxyInfo       *ProxyInfo

	TimeoutSeconds         float64
	MaxRetries             int32
	RetryBackoffSeconds    *float64
	RetryBackoffMaxSeconds *float64
	VerifySSL              bool
	AllowRedirects         bool
	Stream                 bool
	Impersonate            string
	Extensions             map[string]string
	AutomationConfig       string
	AutomationScript       string
	AllowedStatusCodes     []int32
	Kwargs                 string
}

// ResponseMessage mirrors ipclick.ResponseMessage.
type ResponseMessage struct {
	RequestUUID      string
	Adapter          int32
	OriginalRequest  *TaskMessage
	EffectiveURL     string
	StatusCode       int32
	ResponseHeaders  map[string]string
	Content          []byte
	ErrorMessage     string
	ResponseTimeMs   int64
	AdapterElapsedMs int64
}

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// fields wraps a dynamic message with by-name setters that leave proto3
// zero values unset.
type fields struct {
	msg *dynamicpb.Message
}

func newFields(md protoreflect.MessageDescriptor) fields {
	return fields{msg: dynamicpb.NewMessage(md)}
}

func (f fields) fd(name string) protoreflect.FieldDescriptor {
	return f.msg.Descriptor().Fields().ByName(protoreflect.Name(name))
}

func (f fields) setString(name, v string) {
	if v != "" {
		f.msg.Set(f.fd(name), protoreflect.ValueOfString(v))
	}
}

func (f fields) setBytes(name string, v []byte) {
	if len(v) > 0 {
		f.msg.Set(f.fd(name), protoreflect.ValueOfBytes(v))
	}
}

func (f fields) setInt32(name string, v int32) {
	if v != 0 {
		f.msg.Set(f.fd(name), protoreflect.ValueOfInt32(v))
	}
}

func (f fields) setInt64(name string, v int64) {
	if v != 0 {
		f.msg.Set(f.fd(name), protoreflect.ValueOfInt64(v))
	}
}

func (f fields) setEnum(name string, v int32) {
	if v != 0 {
		f.msg.Set(f.fd(name), protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)))
	}
}

func (f fields) setBool(name string, v bool) {
	if v {
		f.msg.Set(f.fd(name), protoreflect.ValueOfBool(v))
	}
}

func (f fields) setDouble(name string, v float64) {
	if v != 0 {
		f.msg.Set(f.fd(name), protoreflect.ValueOfFloat64(v))
	}
}

// setOptionalDouble keeps presence, so a present zero survives.
func (f fields) setOptionalDouble(name string, v *float64) {
	if v != nil {
		f.msg.Set(f.fd(name), protoreflect.ValueOfFloat64(*v))
	}
}

func (f fields) setMap(name string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	dst := f.msg.Mutable(f.fd(name)).Map()
	for k, v := range m {
		dst.Set(protoreflect.ValueOfString(k).MapKey(), protoreflect.ValueOfString(v))
	}
}

func (f fields) setInt32s(name string, vs []int32) {
	if len(vs) == 0 {
		return
	}
	dst := f.msg.Mutable(f.fd(name)).List()
	for _, v := range vs {
		dst.Append(protoreflect.ValueOfInt32(v))
	}
}

func (f fields) setMessage(name string, sub fields) {
	f.msg.Set(f.fd(name), protoreflect.ValueOfMessage(sub.msg))
}

func (f fields) has(name string) bool {
	return f.msg.Has(f.fd(name))
}

func (f fields) get(name string) protoreflect.Value {
	return f.msg.Get(f.fd(name))
}

func (f fields) str(name string) string { return f.get(name).String() }

func (f fields) i32(name string) int32 { return int32(f.get(name).Int()) }

func (f fields) i64(name string) int64 { return f.get(name).Int() }

func (f fields) boolean(name string) bool { return f.get(name).Bool() }

func (f fields) double(name string) float64 { return f.get(name).Float() }

func (f fields) enum(name string) int32 {
	return int32(f.get(name).Enum())
}

func (f fields) bytes(name string) []byte {
	if !f.has(name) {
		return nil
	}
	return append([]byte(nil), f.get(name).Bytes()...)
}

func (f fields) optionalDouble(name string) *float64 {
	if !f.has(name) {
		return nil
	}
	v := f.get(name).Float()
	return &v
}

func (f fields) stringMap(name string) map[string]string {
	if !f.has(name) {
		return nil
	}
	src := f.get(name).Map()
	m := make(map[string]string, src.Len())
	src.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		m[k.String()] = v.String()
		return true
	})
	return m
}

func (f fields) int32s(name string) []int32 {
	if !f.has(name) {
		return nil
	}
	src := f.get(name).List()
	out := make([]int32, src.Len())
	for i := range out {
		out[i] = int32(src.Get(i).Int())
	}
	return out
}

func (f fields) message(name string) (fields, bool) {
	if !f.has(name) {
		return fields{}, false
	}
	return fields{msg: f.get(name).Message().Interface().(*dynamicpb.Message)}, true
}

func unmarshalFields(md protoreflect.MessageDescriptor, b []byte) (fields, error) {
	f := newFields(md)
	if err := proto.Unmarshal(b, f.msg); err != nil {
		return fields{}, err
	}
	return f, nil
}

// ---- ProxyInfo ----

func (p *ProxyInfo) dynamic() fields {
	f := newFields(proxyInfoDesc)
	f.setString("scheme", p.Scheme)
	f.setString("host", p.Host)
	f.setInt32("port", p.Port)
	f.setString("auth_key", p.AuthKey)
	f.setString("auth_secret", p.AuthSecret)
	f.setString("channel", p.Channel)
	f.setInt32("session_ttl", p.SessionTTL)
	f.setString("country_code", p.CountryCode)
	f.setString("tunnel_server", p.TunnelServer)
	return f
}

func (p *ProxyInfo) fromFields(f fields) {
	*p = ProxyInfo{
		Scheme:       f.str("scheme"),
		Host:         f.str("host"),
		Port:         f.i32("port"),
		AuthKey:      f.str("auth_key"),
		AuthSecret:   f.str("auth_secret"),
		Channel:      f.str("channel"),
		SessionTTL:   f.i32("session_ttl"),
		CountryCode:  f.str("country_code"),
		TunnelServer: f.str("tunnel_server"),
	}
}

func (p *ProxyInfo) Marshal() ([]byte, error) {
	return marshalOpts.Marshal(p.dynamic().msg)
}

func (p *ProxyInfo) Unmarshal(b []byte) error {
	f, err := unmarshalFields(proxyInfoDesc, b)
	if err != nil {
		return err
	}
	p.fromFields(f)
	return nil
}

// ---- TaskMessage ----

func (m *TaskMessage) dynamic() fields {
	f := newFields(taskDesc)
	f.setString("uuid", m.UUID)
	f.setEnum("adapter", m.Adapter)
	f.setEnum("method", m.Method)
	f.setString("url", m.URL)
	f.setMap("headers", m.Headers)
	f.setMap("cookies", m.Cookies)
	f.setString("params", m.Params)
	f.setBytes("data", m.Data)
	f.setString("json", m.JSON)

	switch {
	case m.ProxyInfo != nil:
		f.setMessage("proxy_info", m.ProxyInfo.dynamic())
	case m.UseDefaultProxy:
		f.setBool("use_default_proxy", true)
	case m.ProxyURL != "":
		f.setString("proxy_url", m.ProxyURL)
	}

	f.setDouble("timeout_seconds", m.TimeoutSeconds)
	f.setInt32("max_retries", m.MaxRetries)
	f.setOptionalDouble("retry_backoff_seconds", m.RetryBackoffSeconds)
	f.setBool("verify_ssl", m.VerifySSL)
	f.setBool("allow_redirects", m.AllowRedirects)
	f.setBool("stream", m.Stream)
	f.setString("impersonate", m.Impersonate)
	f.setMap("extensions", m.Extensions)
	f.setString("automation_config", m.AutomationConfig)
	f.setString("automation_script", m.AutomationScript)
	f.setInt32s("allowed_status_codes", m.AllowedStatusCodes)
	f.setString("kwargs", m.Kwargs)
	f.setOptionalDouble("retry_backoff_max_seconds", m.RetryBackoffMaxSeconds)
	return f
}

func (m *TaskMessage) fromFields(f fields) {
	*m = TaskMessage{
		UUID:                   f.str("uuid"),
		Adapter:                f.enum("adapter"),
		Method:                 f.enum("method"),
		URL:                    f.str("url"),
		Headers:                f.stringMap("headers"),
		Cookies:                f.stringMap("cookies"),
		Params:                 f.str("params"),
		Data:                   f.bytes("data"),
		JSON:                   f.str("json"),
		ProxyURL:               f.str("proxy_url"),
		UseDefaultProxy:        f.boolean("use_default_proxy"),
		TimeoutSeconds:         f.double("timeout_seconds"),
		MaxRetries:             f.i32("max_retries"),
		RetryBackoffSeconds:    f.optionalDouble("retry_backoff_seconds"),
		RetryBackoffMaxSeconds: f.optionalDouble("retry_backoff_max_seconds"),
		VerifySSL:              f.boolean("verify_ssl"),
		AllowRedirects:         f.boolean("allow_redirects"),
		Stream:                 f.boolean("stream"),
		Impersonate:            f.str("impersonate"),
		Extensions:             f.stringMap("extensions"),
		AutomationConfig:       f.str("automation_config"),
		AutomationScript:       f.str("automation_script"),
		AllowedStatusCodes:     f.int32s("allowed_status_codes"),
		Kwargs:                 f.str("kwargs"),
	}
	if sub, ok := f.message("proxy_info"); ok {
		m.ProxyInfo = &ProxyInfo{}
		m.ProxyInfo.fromFields(sub)
	}
}

func (m *TaskMessage) Marshal() ([]byte, error) {
	return marshalOpts.Marshal(m.dynamic().msg)
}

func (m *TaskMessage) Unmarshal(b []byte) error {
	f, err := unmarshalFields(taskDesc, b)
	if err != nil {
		return err
	}
	m.fromFields(f)
	return nil
}

// ---- ResponseMessage ----

func (m *ResponseMessage) dynamic() fields {
	f := newFields(responseDesc)
	f.setString("request_uuid", m.RequestUUID)
	f.setEnum("adapter", m.Adapter)
	if m.OriginalRequest != nil {
		f.setMessage("original_request", m.OriginalRequest.dynamic())
	}
	f.setString("effective_url", m.EffectiveURL)
	f.setInt32("status_code", m.StatusCode)
	f.setMap("response_headers", m.ResponseHeaders)
	f.setBytes("content", m.Content)
	f.setString("error_message", m.ErrorMessage)
	f.setInt64("response_time_ms", m.ResponseTimeMs)
	f.setInt64("adapter_elapsed_ms", m.AdapterElapsedMs)
	return f
}

func (m *ResponseMessage) Marshal() ([]byte, error) {
	return marshalOpts.Marshal(m.dynamic().msg)
}

func (m *ResponseMessage) Unmarshal(b []byte) error {
	f, err := unmarshalFields(responseDesc, b)
	if err != nil {
		return err
	}
	*m = ResponseMessage{
		RequestUUID:      f.str("request_uuid"),
		Adapter:          f.enum("adapter"),
		EffectiveURL:     f.str("effective_url"),
		StatusCode:       f.i32("status_code"),
		ResponseHeaders:  f.stringMap("response_headers"),
		Content:          f.bytes("content"),
		ErrorMessage:     f.str("error_message"),
		ResponseTimeMs:   f.i64("response_time_ms"),
		AdapterElapsedMs: f.i64("adapter_elapsed_ms"),
	}
	if sub, ok := f.message("original_request"); ok {
		m.OriginalRequest = &TaskMessage{}
		m.OriginalRequest.fromFields(sub)
	}
	return nil
}
