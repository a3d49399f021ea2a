package rpc

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	blockRe = regexp.MustCompile(`^(message|enum|service)\s+(\w+)\s*\{`)
	fieldRe = regexp.MustCompile(`^(?:optional\s+|repeated\s+)?(?:map<[^>]+>|[\w.]+)\s+(\w+)\s*=\s*(\d+);`)
	valueRe = regexp.MustCompile(`^(\w+)\s*=\s*(\d+);`)
)

// readProto collects "Block.name" -> number from the top-level messages and
// enums in path. Nested declarations are not used by task.proto.
func readProto(t *testing.T, path string) map[string]int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	out := map[string]int{}
	var kind, block string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := blockRe.FindStringSubmatch(line); m != nil {
			kind, block = m[1], m[2]
			continue
		}
		if line == "}" && !strings.HasPrefix(sc.Text(), " ") {
			kind, block = "", ""
			continue
		}
		var m []string
		switch kind {
		case "message":
			m = fieldRe.FindStringSubmatch(line)
		case "enum":
			m = valueRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		require.NoError(t, err)
		out[block+"."+m[1]] = n
	}
	require.NoError(t, sc.Err())
	return out
}

func TestDescriptorMatchesProtoFile(t *testing.T) {
	want := readProto(t, "../../../api/proto/task.proto")
	require.NotEmpty(t, want)

	got := map[string]int{}
	msgs := taskFile.Messages()
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		fields := md.Fields()
		for j := 0; j < fields.Len(); j++ {
			fd := fields.Get(j)
			got[string(md.Name())+"."+string(fd.Name())] = int(fd.Number())
		}
	}
	enums := taskFile.Enums()
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		values := ed.Values()
		for j := 0; j < values.Len(); j++ {
			v := values.Get(j)
			got[string(ed.Name())+"."+string(v.Name())] = int(v.Number())
		}
	}

	assert.Equal(t, want, got)
}

func TestDescriptorShapes(t *testing.T) {
	fields := taskDesc.Fields()

	proxy := taskDesc.Oneofs().ByName("proxy")
	require.NotNil(t, proxy)
	assert.Equal(t, 3, proxy.Fields().Len())

	backoff := fields.ByName("retry_backoff_seconds")
	assert.True(t, backoff.HasPresence())
	assert.True(t, backoff.ContainingOneof().IsSynthetic())

	assert.True(t, fields.ByName("headers").IsMap())
	assert.True(t, fields.ByName("allowed_status_codes").IsPacked())
	assert.Equal(t, protoreflect.EnumKind, fields.ByName("adapter").Kind())

	svc := taskFile.Services().ByName("TaskService")
	require.NotNil(t, svc)
	send := svc.Methods().ByName("Send")
	assert.Equal(t, ServiceName, string(svc.FullName()))
	assert.Equal(t, taskDesc.FullName(), send.Input().FullName())
	assert.Equal(t, responseDesc.FullName(), send.Output().FullName())
}
