package connreg

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterUnregisterIdempotence(t *testing.T) {
	r := New()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	require.NoError(t, r.Register(c1))
	require.ErrorIs(t, r.Register(c1), ErrAlreadyRegistered)

	require.NoError(t, r.Unregister(c1))
	require.ErrorIs(t, r.Unregister(c1), ErrNotRegistered)
}

func TestWaitForEmptyReturnsWhenDrained(t *testing.T) {
	r := New()
	c1, c2 := net.Pipe()
	defer c2.Close()
	require.NoError(t, r.Register(c1))

	done := make(chan struct{})
	go func() {
		r.WaitForEmpty()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForEmpty returned before the registry drained")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.Unregister(c1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForEmpty did not return after the registry drained")
	}
}

func TestWaitForEmptyImmediateWhenAlreadyEmpty(t *testing.T) {
	r := New()
	done := make(chan struct{})
	go func() {
		r.WaitForEmpty()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForEmpty should return immediately on an empty registry")
	}
}

func TestShutdownAllUnblocksReaders(t *testing.T) {
	r := New()
	c1, c2 := net.Pipe()
	defer c2.Close()
	require.NoError(t, r.Register(c1))

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := c1.Read(buf)
		readDone <- err
	}()

	r.ShutdownAll()

	select {
	case err := <-readDone:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after ShutdownAll")
	}
}
