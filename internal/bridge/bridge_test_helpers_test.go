package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/internal/infra/device/mockdevice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type chanPort struct {
	in  chan []byte
	out chan []byte
}

func newChanPort() *chanPort {
	return &chanPort{in: make(chan []byte, 64), out: make(chan []byte, 64)}
}

func (p *chanPort) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (p *chanPort) Post(_ context.Context, data []byte) error {
	p.out <- append([]byte(nil), data...)
	return nil
}

func (p *chanPort) send(t *testing.T, raw string) {
	t.Helper()
	p.in <- []byte(raw)
}

func (p *chanPort) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-p.out:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

func (p *chanPort) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-p.out:
		t.Fatalf("unexpected reply: %s", data)
	case <-time.After(wait):
	}
}

type decodedReply struct {
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	MessageID json.RawMessage `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
	Error     *string         `json:"error"`
}

func decode(t *testing.T, data []byte) decodedReply {
	t.Helper()
	var r decodedReply
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

type harness struct {
	port        *chanPort
	device      *mockdevice.Device
	constructed *atomic.Int64
	listener    *Listener
	dispatcher  *Dispatcher
	registry    *prometheus.Registry
}

func newHarness(t *testing.T, dev *mockdevice.Device, dopts []DispatcherOption, lopts ...ListenerOption) *harness {
	t.Helper()
	if dev == nil {
		dev = mockdevice.New()
	}
	constructed := &atomic.Int64{}
	adapter, err := transport.NewAdapter(mockdevice.Factory(dev, constructed))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	dopts = append([]DispatcherOption{WithMetrics(NewMetrics(reg))}, dopts...)
	dispatcher, err := NewDispatcher(adapter, dopts...)
	require.NoError(t, err)
	listener, err := NewListener(dispatcher, lopts...)
	require.NoError(t, err)

	port := newChanPort()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Serve(ctx, port)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{
		port:        port,
		device:      dev,
		constructed: constructed,
		listener:    listener,
		dispatcher:  dispatcher,
		registry:    reg,
	}
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	h.port.send(t, `{"target":"KEYSTONE-IFRAME","action":"keystone-bridge-init","messageId":"init"}`)
	r := decode(t, h.port.next(t))
	require.True(t, r.Success)
}
