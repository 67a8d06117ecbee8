package traders

import (
	"net"
	"testing"

	"github.com/rishavpaul/bourse/internal/accounts"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal net.Conn that records every write and does not
// implement reads, sufficient for exercising registry/broadcast logic
// without a real socket.
type fakeConn struct {
	net.Conn
	written [][]byte
}

func (c *fakeConn) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	c.written = append(c.written, cp)
	return len(b), nil
}

func (c *fakeConn) Close() error { return nil }

func TestLoginCreatesTraderWithOneReference(t *testing.T) {
	reg := NewRegistry(4)
	acct := &accounts.Account{Name: "alice"}
	conn := &fakeConn{}

	tr, err := reg.Login(conn, "alice", acct)
	require.NoError(t, err)
	require.Equal(t, "alice", tr.Name)
	require.Equal(t, 1, tr.refCount)
	require.Equal(t, 1, reg.Len())
}

func TestLoginRejectsDuplicateNameOnDifferentConn(t *testing.T) {
	reg := NewRegistry(4)
	acct := &accounts.Account{Name: "alice"}
	_, err := reg.Login(&fakeConn{}, "alice", acct)
	require.NoError(t, err)

	_, err = reg.Login(&fakeConn{}, "alice", acct)
	require.ErrorIs(t, err, ErrAlreadyLoggedIn)
}

func TestRefCountSurvivesLogoutUntilZero(t *testing.T) {
	reg := NewRegistry(4)
	acct := &accounts.Account{Name: "alice"}
	conn := &fakeConn{}
	tr, err := reg.Login(conn, "alice", acct)
	require.NoError(t, err)

	reg.Ref(tr, "open order")
	reg.Logout(tr) // drops the session's own reference; the order's keeps it alive
	require.Equal(t, 0, reg.Len())
	require.Equal(t, 1, tr.refCount)

	reg.Unref(tr, "order closed")
	require.Equal(t, 0, tr.refCount)
}

func TestCapacityEnforced(t *testing.T) {
	reg := NewRegistry(1)
	acct := &accounts.Account{Name: "alice"}
	_, err := reg.Login(&fakeConn{}, "alice", acct)
	require.NoError(t, err)

	_, err = reg.Login(&fakeConn{}, "bob", acct)
	require.ErrorIs(t, err, ErrCapacity)
}
