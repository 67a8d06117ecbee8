// Package protocol implements the bourse wire protocol: a fixed 16-byte
// header followed by an optional fixed-shape payload. All multi-byte
// fields are transmitted in network byte order.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Frame types.
const (
	TypeLogin = iota + 1
	TypeStatus
	TypeDeposit
	TypeWithdraw
	TypeEscrow
	TypeRelease
	TypeBuy
	TypeSell
	TypeCancel

	TypeAck
	TypeNack
	TypePosted
	TypeCanceled
	TypeBought
	TypeSold
	TypeTraded
)

// HeaderSize is the on-wire size of Header in bytes.
const HeaderSize = 16

// Header is the fixed portion of every frame.
type Header struct {
	Type          uint8
	Size          uint16
	TimestampSec  uint32
	TimestampNsec uint32
}

// StatusInfo is the ACK payload: current order/account/market snapshot.
type StatusInfo struct {
	OrderID   uint32
	Quantity  uint32
	Inventory uint32
	Balance   uint32
	Bid       uint32
	Ask       uint32
	Last      uint32
}

// StatusInfoSize is the on-wire size of StatusInfo in bytes.
const StatusInfoSize = 28

// NotifyInfo is the payload for POSTED/CANCELED/BOUGHT/SOLD/TRADED frames.
type NotifyInfo struct {
	Buyer    uint32
	Seller   uint32
	Quantity uint32
	Price    uint32
}

// NotifyInfoSize is the on-wire size of NotifyInfo in bytes.
const NotifyInfoSize = 16

var ErrShortWrite = errors.New("protocol: short write")

// Send writes hdr followed by payload to w. hdr's timestamp fields are
// stamped with the current time before transmission; the caller-supplied
// values are ignored. payload must be exactly hdr.Size bytes, or nil if
// hdr.Size is 0.
func Send(w io.Writer, hdr Header, payload []byte) error {
	if int(hdr.Size) != len(payload) {
		return fmt.Errorf("protocol: header size %d does not match payload length %d", hdr.Size, len(payload))
	}
	now := time.Now()
	hdr.TimestampSec = uint32(now.Unix())
	hdr.TimestampNsec = uint32(now.Nanosecond())

	var buf [HeaderSize]byte
	buf[0] = hdr.Type
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], hdr.Size)
	binary.BigEndian.PutUint32(buf[4:8], hdr.TimestampSec)
	binary.BigEndian.PutUint32(buf[8:12], hdr.TimestampNsec)
	// bytes 12:16 reserved
	if n, err := w.Write(buf[:]); err != nil || n < HeaderSize {
		if err != nil {
			return fmt.Errorf("protocol: write header: %w", err)
		}
		return ErrShortWrite
	}
	if len(payload) == 0 {
		return nil
	}
	if n, err := w.Write(payload); err != nil || n < len(payload) {
		if err != nil {
			return fmt.Errorf("protocol: write payload: %w", err)
		}
		return ErrShortWrite
	}
	return nil
}

// Recv blocks until a full frame is available on r and returns its header
// and payload. A clean EOF before any bytes are read is reported as
// io.EOF; any other short read is a wrapped error.
func Recv(r io.Reader) (Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, fmt.Errorf("protocol: read header: %w", err)
	}
	hdr := Header{
		Type:          buf[0],
		Size:          binary.BigEndian.Uint16(buf[2:4]),
		TimestampSec:  binary.BigEndian.Uint32(buf[4:8]),
		TimestampNsec: binary.BigEndian.Uint32(buf[8:12]),
	}
	if hdr.Size == 0 {
		return hdr, nil, nil
	}
	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return hdr, payload, nil
}

// EncodeStatusInfo serializes s to its wire representation.
func EncodeStatusInfo(s StatusInfo) []byte {
	buf := make([]byte, StatusInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], s.OrderID)
	binary.BigEndian.PutUint32(buf[4:8], s.Quantity)
	binary.BigEndian.PutUint32(buf[8:12], s.Inventory)
	binary.BigEndian.PutUint32(buf[12:16], s.Balance)
	binary.BigEndian.PutUint32(buf[16:20], s.Bid)
	binary.BigEndian.PutUint32(buf[20:24], s.Ask)
	binary.BigEndian.PutUint32(buf[24:28], s.Last)
	return buf
}

// DecodeStatusInfo parses a StatusInfo from its wire representation.
func DecodeStatusInfo(buf []byte) (StatusInfo, error) {
	if len(buf) < StatusInfoSize {
		return StatusInfo{}, fmt.Errorf("protocol: short STATUS_INFO payload: %d bytes", len(buf))
	}
	return StatusInfo{
		OrderID:   binary.BigEndian.Uint32(buf[0:4]),
		Quantity:  binary.BigEndian.Uint32(buf[4:8]),
		Inventory: binary.BigEndian.Uint32(buf[8:12]),
		Balance:   binary.BigEndian.Uint32(buf[12:16]),
		Bid:       binary.BigEndian.Uint32(buf[16:20]),
		Ask:       binary.BigEndian.Uint32(buf[20:24]),
		Last:      binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// EncodeNotifyInfo serializes n to its wire representation.
func EncodeNotifyInfo(n NotifyInfo) []byte {
	buf := make([]byte, NotifyInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], n.Buyer)
	binary.BigEndian.PutUint32(buf[4:8], n.Seller)
	binary.BigEndian.PutUint32(buf[8:12], n.Quantity)
	binary.BigEndian.PutUint32(buf[12:16], n.Price)
	return buf
}

// DecodeNotifyInfo parses a NotifyInfo from its wire representation.
func DecodeNotifyInfo(buf []byte) (NotifyInfo, error) {
	if len(buf) < NotifyInfoSize {
		return NotifyInfo{}, fmt.Errorf("protocol: short NOTIFY_INFO payload: %d bytes", len(buf))
	}
	return NotifyInfo{
		Buyer:    binary.BigEndian.Uint32(buf[0:4]),
		Seller:   binary.BigEndian.Uint32(buf[4:8]),
		Quantity: binary.BigEndian.Uint32(buf[8:12]),
		Price:    binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// EncodeUint32 serializes a single u32 field (amount/quantity/order id).
func EncodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// DecodeUint32 parses a single u32 field.
func DecodeUint32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("protocol: short u32 payload: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf[0:4]), nil
}

// EncodeOrderRequest serializes a BUY/SELL payload (quantity, price).
func EncodeOrderRequest(quantity, price uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], quantity)
	binary.BigEndian.PutUint32(buf[4:8], price)
	return buf
}

// DecodeOrderRequest parses a BUY/SELL payload.
func DecodeOrderRequest(buf []byte) (quantity, price uint32, err error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("protocol: short order payload: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), nil
}
