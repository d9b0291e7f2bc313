// Package comm carries agent messages over packet transports.
package comm

import (
	"context"
	"io"
)

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// PacketConn is a PacketReadWriter over a closable connection.
type PacketConn interface {
	PacketReadWriter
	io.Closer
}

// DialFunc opens a packet connection to an agent.
type DialFunc func(ctx context.Context) (PacketConn, error)
