package memorydevice

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corelogio/logstore/logdev"
)

func TestDeviceWriteThenRead(t *testing.T) {
	d := New(1)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotKey logdev.DeviceKey
	d.Write(7, 1, logdev.NewBuffer([]byte("payload")), nil, func(storeID uint64, lsn int64, key logdev.DeviceKey, cookie any, err error) {
		defer wg.Done()
		require.NoError(t, err)
		gotKey = key
	})
	wg.Wait()
	require.True(t, gotKey.Valid())

	done := make(chan struct{})
	d.Read(gotKey, func(buf *logdev.Buffer, err error) {
		defer close(done)
		require.NoError(t, err)
		require.Equal(t, "payload", string(buf.Bytes()))
	})
	<-done
}

func TestDeviceReadUnknownKeyFails(t *testing.T) {
	d := New(1)
	done := make(chan struct{})
	d.Read(logdev.NewDeviceKey(1, 999), func(buf *logdev.Buffer, err error) {
		defer close(done)
		require.ErrorIs(t, err, logdev.ErrKeyNotFound)
	})
	<-done
}

func TestDeviceFlushFiresBatchCompletionWithMaxLSN(t *testing.T) {
	d := New(1)
	done := make(chan struct{})
	var gotMaxLSN int64
	d.RegisterBatchCompletionCB(3, func(maxLSN int64, key logdev.DeviceKey) {
		defer close(done)
		gotMaxLSN = maxLSN
	})

	var wg sync.WaitGroup
	wg.Add(2)
	d.Write(3, 1, logdev.NewBuffer([]byte("a")), nil, func(uint64, int64, logdev.DeviceKey, any, error) { wg.Done() })
	d.Write(3, 2, logdev.NewBuffer([]byte("b")), nil, func(uint64, int64, logdev.DeviceKey, any, error) { wg.Done() })
	wg.Wait()

	d.Flush(3, 0)
	<-done
	require.EqualValues(t, 2, gotMaxLSN)
}

func TestDeviceTruncateRemovesRecordsAtOrBelowKey(t *testing.T) {
	d := New(1)
	var wg sync.WaitGroup
	wg.Add(2)
	var key1 logdev.DeviceKey
	d.Write(1, 1, logdev.NewBuffer([]byte("a")), nil, func(_ uint64, _ int64, key logdev.DeviceKey, _ any, _ error) {
		key1 = key
		wg.Done()
	})
	d.Write(1, 2, logdev.NewBuffer([]byte("b")), nil, func(uint64, int64, logdev.DeviceKey, any, error) { wg.Done() })
	wg.Wait()

	require.NoError(t, d.Truncate(key1))

	done := make(chan struct{})
	d.Read(key1, func(buf *logdev.Buffer, err error) {
		defer close(done)
		require.ErrorIs(t, err, logdev.ErrKeyNotFound)
	})
	<-done
}

func TestDeviceReplayOrdersByLSN(t *testing.T) {
	d := New(1)
	var wg sync.WaitGroup
	wg.Add(3)
	for _, lsn := range []int64{3, 1, 2} {
		lsn := lsn
		d.Write(1, lsn, logdev.NewBuffer([]byte("x")), nil, func(uint64, int64, logdev.DeviceKey, any, error) { wg.Done() })
	}
	wg.Wait()

	var seen []int64
	err := d.Replay(1, func(lsn int64, key, flushKey logdev.DeviceKey, buf *logdev.Buffer) {
		seen = append(seen, lsn)
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, seen)
}
