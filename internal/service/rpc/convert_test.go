package rpc

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipclick/internal/core/dispatcher"
	"ipclick/model"
)

func TestTaskConversionRoundTrip(t *testing.T) {
	task, err := model.NewTask("https://example.com/search",
		model.WithAdapter(model.AdapterPlain),
		model.WithMethod(model.MethodPost),
		model.WithHeader("X-Token", "t"),
		model.WithCookie("sid", "1"),
		model.WithParams(url.Values{"q": {"a", "b"}}),
		model.WithJSON(map[string]any{"k": "v"}),
		model.WithTimeout(1500*time.Millisecond),
		model.WithMaxRetries(5),
		model.WithRetryBackoff(model.RetryDelay{Min: time.Second, Max: 3 * time.Second}),
		model.WithProxy(model.ProxyFromDescriptor(model.ProxyDescriptor{Host: "gw.example.com", Port: 15818, AuthKey: "k", AuthSecret: "s", SessionTTL: 60})),
		model.WithKwarg("user_agent", "ua/1"),
		model.WithAllowedStatusCodes(200, 201),
		model.WithExtension("http2", "false"),
	)
	require.NoError(t, err)

	msg, err := TaskToMessage(task)
	require.NoError(t, err)

	raw, err := msg.Marshal()
	require.NoError(t, err)
	var wire TaskMessage
	require.NoError(t, wire.Unmarshal(raw))

	got, err := TaskFromMessage(&wire)
	require.NoError(t, err)

	assert.Equal(t, task.UUID, got.UUID)
	assert.Equal(t, model.AdapterPlain, got.Adapter)
	assert.Equal(t, model.MethodPost, got.Method)
	assert.Equal(t, task.Headers, got.Headers)
	assert.Equal(t, task.Cookies, got.Cookies)
	assert.Equal(t, []string{"a", "b"}, got.Params["q"])
	assert.JSONEq(t, `{"k":"v"}`, string(got.JSON.(json.RawMessage)))
	assert.Equal(t, 1500*time.Millisecond, got.Timeout)
	assert.Equal(t, 5, got.MaxRetries)
	require.NotNil(t, got.RetryBackoff)
	assert.Equal(t, model.RetryDelay{Min: time.Second, Max: 3 * time.Second}, *got.RetryBackoff)
	assert.Equal(t, "ua/1", got.Kwargs["user_agent"])
	assert.Equal(t, []int{200, 201}, got.AllowedStatusCodes)
	assert.Equal(t, "false", got.Extensions["http2"])

	proxyURL, err := got.Proxy.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://k:s:T60@gw.example.com:15818", proxyURL)
}

func TestTaskFromMessageDefaults(t *testing.T) {
	task, err := TaskFromMessage(&TaskMessage{URL: "http://example.com", MaxRetries: -1})
	require.NoError(t, err)

	assert.NotEmpty(t, task.UUID)
	assert.Equal(t, model.DefaultTimeout, task.Timeout)
	assert.Equal(t, model.DefaultRetries, task.MaxRetries)
	assert.Nil(t, task.RetryBackoff)
	assert.Equal(t, model.DefaultImpersonation, task.Impersonate)
	assert.Equal(t, model.DefaultAllowedStatusCodes, task.AllowedStatusCodes)
	assert.True(t, task.Proxy.IsZero())
}

func TestTaskFromMessageZeroBackoff(t *testing.T) {
	task, err := TaskFromMessage(&TaskMessage{URL: "http://example.com", RetryBackoffSeconds: float(0)})
	require.NoError(t, err)
	require.NotNil(t, task.RetryBackoff)
	assert.True(t, task.RetryBackoff.IsZero())
}

func TestTaskFromMessageParamsForms(t *testing.T) {
	task, err := TaskFromMessage(&TaskMessage{URL: "http://example.com", Params: `{"a":"1","b":["2","3"]}`})
	require.NoError(t, err)
	assert.Equal(t, "1", task.Params.Get("a"))
	assert.Equal(t, []string{"2", "3"}, task.Params["b"])
}

func TestTaskFromMessageInvalid(t *testing.T) {
	cases := map[string]struct {
		msg   *TaskMessage
		field string
	}{
		"bad scheme":  {&TaskMessage{URL: "ftp://example.com"}, "url"},
		"bad json":    {&TaskMessage{URL: "http://example.com", JSON: "{"}, "json"},
		"bad params":  {&TaskMessage{URL: "http://example.com", Params: `{"a":1}`}, "params"},
		"bad kwargs":  {&TaskMessage{URL: "http://example.com", Kwargs: `[1]`}, "kwargs"},
		"two bodies":  {&TaskMessage{URL: "http://example.com", Data: []byte("x"), JSON: "{}"}, "body"},
		"bad method":  {&TaskMessage{URL: "http://example.com", Method: 42}, "method"},
		"low retries": {&TaskMessage{URL: "http://example.com", MaxRetries: -2}, "max_retries"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			task, err := TaskFromMessage(tc.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)

			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			require.NotNil(t, task)
			assert.Equal(t, tc.msg.URL, task.URL)
		})
	}
}

func TestResultToMessage(t *testing.T) {
	req := &TaskMessage{UUID: "req-uuid", URL: "http://example.com"}
	res := &dispatcher.Result{
		TaskUUID: "req-uuid",
		Adapter:  model.AdapterPlain,
		Response: &model.Response{
			URL:        "http://example.com/final",
			StatusCode: 200,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Content:    []byte("hi"),
			Elapsed:    40 * time.Millisecond,
		},
		Elapsed: 55 * time.Millisecond,
	}

	out := ResultToMessage(res, req)
	assert.Equal(t, "req-uuid", out.RequestUUID)
	assert.Equal(t, int32(model.AdapterPlain), out.Adapter)
	assert.Same(t, req, out.OriginalRequest)
	assert.Equal(t, "http://example.com/final", out.EffectiveURL)
	assert.Equal(t, int32(200), out.StatusCode)
	assert.Equal(t, int64(55), out.ResponseTimeMs)
	assert.Equal(t, int64(40), out.AdapterElapsedMs)
	assert.Empty(t, out.ErrorMessage)

	back := ResponseFromMessage(out)
	assert.Equal(t, "hi", back.Text())
	assert.Equal(t, 40*time.Millisecond, back.Elapsed)
}

func TestResultToMessageInvalidUTF8(t *testing.T) {
	req := &TaskMessage{URL: "http://example.com"}
	res := &dispatcher.Result{
		Adapter: model.AdapterPlain,
		Response: &model.Response{
			StatusCode:   200,
			Headers:      map[string]string{"X-Raw": "caf\xe9"},
			ErrorMessage: "bad \xff byte",
		},
	}

	out := ResultToMessage(res, req)
	raw, err := out.Marshal()
	require.NoError(t, err)

	var back ResponseMessage
	require.NoError(t, back.Unmarshal(raw))
	assert.Equal(t, "caf\uFFFD", back.ResponseHeaders["X-Raw"])
	assert.Equal(t, "bad \uFFFD byte", back.ErrorMessage)
}
