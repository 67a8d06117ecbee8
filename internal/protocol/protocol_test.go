package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("alice")
	err := Send(&buf, Header{Type: TypeLogin, Size: uint16(len(payload))}, payload)
	require.NoError(t, err)

	hdr, got, err := Recv(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeLogin, int(hdr.Type))
	require.Equal(t, payload, got)
	require.NotZero(t, hdr.TimestampSec)
}

func TestSendRejectsMismatchedSize(t *testing.T) {
	var buf bytes.Buffer
	err := Send(&buf, Header{Type: TypeStatus, Size: 4}, []byte("ab"))
	require.Error(t, err)
}

func TestRecvEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, Header{Type: TypeNack}, nil))

	hdr, payload, err := Recv(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeNack, int(hdr.Type))
	require.Empty(t, payload)
}

func TestStatusInfoRoundTrip(t *testing.T) {
	s := StatusInfo{OrderID: 7, Quantity: 3, Inventory: 100, Balance: 5000, Bid: 20, Ask: 15, Last: 18}
	got, err := DecodeStatusInfo(EncodeStatusInfo(s))
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestNotifyInfoRoundTrip(t *testing.T) {
	n := NotifyInfo{Buyer: 1, Seller: 2, Quantity: 5, Price: 15}
	got, err := DecodeNotifyInfo(EncodeNotifyInfo(n))
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestOrderRequestRoundTrip(t *testing.T) {
	q, p, err := DecodeOrderRequest(EncodeOrderRequest(5, 20))
	require.NoError(t, err)
	require.Equal(t, uint32(5), q)
	require.Equal(t, uint32(20), p)
}

func TestDecodeStatusInfoShort(t *testing.T) {
	_, err := DecodeStatusInfo([]byte{1, 2, 3})
	require.Error(t, err)
}
