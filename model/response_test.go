package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseClassification(t *testing.T) {
	r := &Response{StatusCode: 204}
	assert.True(t, r.OK())

	r = &Response{StatusCode: 301}
	assert.True(t, r.IsRedirect())
	assert.False(t, r.OK())

	r = &Response{StatusCode: 404}
	assert.True(t, r.IsClientError())
	assert.True(t, r.Allowed(nil))

	r = &Response{StatusCode: 503}
	assert.True(t, r.IsServerError())
	assert.False(t, r.Allowed([]int{200}))
}

func TestErrorResponse(t *testing.T) {
	r := ErrorResponse("http://x", errors.New("connection refused"))
	assert.Equal(t, StatusTransportFailure, r.StatusCode)
	assert.Equal(t, "connection refused", r.ErrorMessage)
	assert.False(t, r.OK())
	assert.NotNil(t, r.Headers)
	assert.Error(t, r.RaiseForStatus())
}

func TestFaultResponse(t *testing.T) {
	r := FaultResponse("http://x", errors.New("boom"))
	assert.Equal(t, 500, r.StatusCode)
	assert.Empty(t, r.Content)
	assert.Empty(t, r.Headers)
	assert.Equal(t, "boom", r.ErrorMessage)
}

func TestResponseText(t *testing.T) {
	// "café" in latin-1
	r := &Response{
		Content: []byte{'c', 'a', 'f', 0xe9},
		Headers: map[string]string{"content-type": "text/plain; charset=ISO-8859-1"},
	}
	assert.Equal(t, "iso-8859-1", r.Encoding())
	assert.Equal(t, "café", r.Text())

	r = &Response{Content: []byte{'o', 'k', 0xff}}
	assert.Equal(t, "ok�", r.Text())
}

func TestResponseJSON(t *testing.T) {
	r := &Response{StatusCode: 200, Content: []byte(`{"origin":"1.2.3.4"}`)}
	var body struct {
		Origin string `json:"origin"`
	}
	require.NoError(t, r.JSON(&body))
	assert.Equal(t, "1.2.3.4", body.Origin)

	r = &Response{StatusCode: 200}
	assert.ErrorIs(t, r.JSON(&body), ErrNoContent)
}

func TestRaiseForStatus(t *testing.T) {
	r := &Response{URL: "http://x", StatusCode: 200, Elapsed: time.Millisecond}
	assert.NoError(t, r.RaiseForStatus())

	r = &Response{URL: "http://x", StatusCode: 502, Content: []byte("bad gateway")}
	err := r.RaiseForStatus()
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 502, se.StatusCode)
	assert.Equal(t, "bad gateway", se.Snippet)
}

func TestParseRetryDelay(t *testing.T) {
	d, err := ParseRetryDelay("1-3")
	require.NoError(t, err)
	assert.Equal(t, RetryDelay{Min: time.Second, Max: 3 * time.Second}, d)

	d, err = ParseRetryDelay("0.5")
	require.NoError(t, err)
	assert.Equal(t, FixedDelay(500*time.Millisecond), d)

	d, err = ParseRetryDelay("0")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseRetryDelay("3-1")
	assert.Error(t, err)

	_, err = ParseRetryDelay("abc")
	assert.Error(t, err)
}

func TestRetryDelayJitter(t *testing.T) {
	d := RetryDelay{Min: time.Second, Max: 3 * time.Second}
	assert.Equal(t, time.Second, d.JitterFrom(func() float64 { return 0 }))
	assert.Equal(t, 2*time.Second, d.JitterFrom(func() float64 { return 0.5 }))

	for i := 0; i < 100; i++ {
		j := d.Jitter()
		assert.GreaterOrEqual(t, j, d.Min)
		assert.LessOrEqual(t, j, d.Max)
	}

	assert.Equal(t, 2*time.Second, FixedDelay(2*time.Second).Jitter())
}
