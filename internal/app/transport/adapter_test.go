package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	initErr   error
	initDelay time.Duration
	initCalls atomic.Int64
	keyCalls  atomic.Int64
}

func (f *fakeDevice) Init(ctx context.Context) error {
	f.initCalls.Add(1)
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	return f.initErr
}

func (f *fakeDevice) GetKeys(_ context.Context, paths []string) ([]Key, error) {
	f.keyCalls.Add(1)
	keys := make([]Key, len(paths))
	for i, p := range paths {
		keys[i] = Key{Path: p, PublicKey: "0x" + p}
	}
	return keys, nil
}

func (f *fakeDevice) SignTransaction(context.Context, string, string, bool) (Signature, error) {
	return nil, errors.New("device disconnected")
}

func (f *fakeDevice) SignPersonalMessage(context.Context, string, string) (Signature, error) {
	return json.RawMessage(`"0xsig"`), nil
}

func (f *fakeDevice) SignEIP712Message(context.Context, string, json.RawMessage) (Signature, error) {
	return json.RawMessage(`"0xtyped"`), nil
}

func countingFactory(dev *fakeDevice, calls *atomic.Int64) Factory {
	return func() (Device, error) {
		calls.Add(1)
		return dev, nil
	}
}

func TestNewAdapterRequiresFactory(t *testing.T) {
	_, err := NewAdapter(nil)
	require.Error(t, err)
}

func TestEnsureInitializedIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)
	require.False(t, a.Initialized())

	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.True(t, a.Initialized())
	require.Equal(t, int64(1), built.Load())
	require.Equal(t, int64(1), dev.initCalls.Load())
	require.Equal(t, int64(1), a.Constructed())
}

func TestEnsureInitializedSingleFlight(t *testing.T) {
	dev := &fakeDevice{initDelay: 50 * time.Millisecond}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- a.EnsureInitialized(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), built.Load())
	require.Equal(t, int64(1), dev.initCalls.Load())
}

func TestEnsureInitializedFailureRebuildsHandle(t *testing.T) {
	dev := &fakeDevice{initErr: errors.New("device not found")}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)

	err = a.EnsureInitialized(context.Background())
	require.EqualError(t, err, "device not found")
	require.False(t, a.Initialized())

	dev.initErr = nil
	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.True(t, a.Initialized())
	require.Equal(t, int64(2), built.Load())
}

func TestEnsureInitializedFactoryError(t *testing.T) {
	a, err := NewAdapter(func() (Device, error) { return nil, errors.New("no usb") })
	require.NoError(t, err)
	err = a.EnsureInitialized(context.Background())
	require.ErrorContains(t, err, "no usb")
	require.Equal(t, int64(0), a.Constructed())
}

func TestEnsureInitializedWaiterCancelled(t *testing.T) {
	dev := &fakeDevice{initDelay: 200 * time.Millisecond}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = a.EnsureInitialized(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, a.Initialized, time.Second, 10*time.Millisecond)
}

func TestOperationsRequireInit(t *testing.T) {
	dev := &fakeDevice{}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)

	_, err = a.GetKeys(context.Background(), []string{"m/0"})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = a.SignTransaction(context.Background(), "m/0", "0x00", false)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = a.SignPersonalMessage(context.Background(), "m/0", "hi")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = a.SignEIP712Message(context.Background(), "m/0", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotInitialized)
	require.Equal(t, int64(0), dev.keyCalls.Load())
}

func TestPassthroughs(t *testing.T) {
	dev := &fakeDevice{}
	var built atomic.Int64
	a, err := NewAdapter(countingFactory(dev, &built))
	require.NoError(t, err)
	require.NoError(t, a.EnsureInitialized(context.Background()))

	keys, err := a.GetKeys(context.Background(), []string{"m/1", "m/2"})
	require.NoError(t, err)
	require.Equal(t, []Key{{Path: "m/1", PublicKey: "0xm/1"}, {Path: "m/2", PublicKey: "0xm/2"}}, keys)

	_, err = a.SignTransaction(context.Background(), "m/1", "0x00", true)
	require.EqualError(t, err, "device disconnected")

	sig, err := a.SignPersonalMessage(context.Background(), "m/1", "hello")
	require.NoError(t, err)
	require.JSONEq(t, `"0xsig"`, string(sig))

	sig, err = a.SignEIP712Message(context.Background(), "m/1", json.RawMessage(`{"types":{}}`))
	require.NoError(t, err)
	require.JSONEq(t, `"0xtyped"`, string(sig))
}

type closingDevice struct {
	fakeDevice
	closed atomic.Int64
}

func (c *closingDevice) Close() error {
	c.closed.Add(1)
	return nil
}

func TestCloseReleasesHandle(t *testing.T) {
	dev := &closingDevice{}
	a, err := NewAdapter(func() (Device, error) { return dev, nil })
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.EqualValues(t, 0, dev.closed.Load())

	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.NoError(t, a.Close())
	require.EqualValues(t, 1, dev.closed.Load())
	require.False(t, a.Initialized())
	_, err = a.GetKeys(context.Background(), []string{"m/0"})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestFailedInitClosesHandle(t *testing.T) {
	dev := &closingDevice{}
	dev.initErr = errors.New("no device found")
	a, err := NewAdapter(func() (Device, error) { return dev, nil })
	require.NoError(t, err)
	require.EqualError(t, a.EnsureInitialized(context.Background()), "no device found")
	require.EqualValues(t, 1, dev.closed.Load())
}
