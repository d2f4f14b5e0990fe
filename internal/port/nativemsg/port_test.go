package nativemsg

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/internal/bridge"
	"github.com/aegis-sign/keystone-bridge/internal/infra/device/mockdevice"
	"github.com/stretchr/testify/require"
)

func frame(payload string) []byte {
	buf := make([]byte, 4+len(payload))
	binary.NativeEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func TestReceiveFrames(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(`{"a":1}`))
	in.Write(frame(`{}`))
	p := New(&in, io.Discard)
	ctx := context.Background()

	data, err := p.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))
	data, err = p.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))
	_, err = p.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestReceiveTruncated(t *testing.T) {
	full := frame(`{"target":"x"}`)
	p := New(bytes.NewReader(full[:len(full)-3]), io.Discard)
	_, err := p.Receive(context.Background())
	require.ErrorIs(t, err, ErrTruncatedFrame)

	p = New(bytes.NewReader([]byte{1, 0}), io.Discard)
	_, err = p.Receive(context.Background())
	require.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReceiveRejectsOversizedFrame(t *testing.T) {
	header := make([]byte, 4)
	binary.NativeEndian.PutUint32(header, MaxInbound+1)
	p := New(bytes.NewReader(header), io.Discard)
	_, err := p.Receive(context.Background())
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestPostFrames(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader(""), &out)
	require.NoError(t, p.Post(context.Background(), []byte(`{"ok":true}`)))
	require.Equal(t, frame(`{"ok":true}`), out.Bytes())

	err := p.Post(context.Background(), make([]byte, MaxOutbound+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) frames(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	rd := New(bytes.NewReader(b.buf.Bytes()), io.Discard)
	var out []map[string]json.RawMessage
	for {
		data, err := rd.Receive(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
}

func TestServeOverNativeMessaging(t *testing.T) {
	adapter, err := transport.NewAdapter(mockdevice.Factory(mockdevice.New(), nil))
	require.NoError(t, err)
	dispatcher, err := bridge.NewDispatcher(adapter)
	require.NoError(t, err)
	listener, err := bridge.NewListener(dispatcher)
	require.NoError(t, err)

	var in bytes.Buffer
	in.Write(frame(`{"target":"KEYSTONE-IFRAME","action":"keystone-bridge-get-keys","params":{"paths":["m/0"]},"messageId":"early"}`))
	in.Write(frame(`{"target":"NOPE","action":"keystone-bridge-init","messageId":"skip"}`))
	out := &lockedBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, listener.Serve(ctx, New(&in, out)))

	frames := out.frames(t)
	require.Len(t, frames, 1)
	require.Equal(t, `"early"`, string(frames[0]["messageId"]))
	require.JSONEq(t, `false`, string(frames[0]["success"]))
	require.JSONEq(t, `"`+bridge.UninitializedMessage+`"`, string(frames[0]["error"]))
}
