package sim

import (
	"fmt"
	"sync"

	"periph.io/x/periph/conn"

	"github.com/robotalks/jesd204.go/pkg/hal"
)

// RegWrite is one register write seen on the bus.
type RegWrite struct {
	Reg uint16
	Val uint8
}

// RegisterFile is an in-memory SPI register map. It decodes three byte
// frames: a 16-bit command (bit 15 set for reads) followed by the data byte.
type RegisterFile struct {
	name string

	lock   sync.Mutex
	regs   map[uint16]uint8
	writes []RegWrite
	pulses int
}

// NewRegisterFile creates an empty RegisterFile.
func NewRegisterFile(name string) *RegisterFile {
	return &RegisterFile{name: name, regs: make(map[uint16]uint8)}
}

// String implements conn.Conn.
func (f *RegisterFile) String() string { return f.name }

// Duplex implements conn.Conn.
func (f *RegisterFile) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn.
func (f *RegisterFile) Tx(w, r []byte) error {
	if len(w) != 3 {
		return fmt.Errorf("%s: frame of %d bytes", f.name, len(w))
	}
	reg := (uint16(w[0])<<8 | uint16(w[1])) & 0x1fff
	f.lock.Lock()
	defer f.lock.Unlock()
	if w[0]&0x80 != 0 {
		if len(r) != 3 {
			return fmt.Errorf("%s: read needs a 3 byte buffer", f.name)
		}
		r[0], r[1], r[2] = 0, 0, f.regs[reg]
		return nil
	}
	if reg == hal.RegReqMode0 && w[2]&hal.ReqPulseGen != 0 && f.regs[reg]&hal.ReqPulseGen == 0 {
		f.pulses++
	}
	f.regs[reg] = w[2]
	f.writes = append(f.writes, RegWrite{Reg: reg, Val: w[2]})
	return nil
}

// Reg returns the last value written to reg.
func (f *RegisterFile) Reg(reg uint16) uint8 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.regs[reg]
}

// Writes returns the write history.
func (f *RegisterFile) Writes() []RegWrite {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]RegWrite(nil), f.writes...)
}

// Pulses counts rising edges of the pulse generator request bit.
func (f *RegisterFile) Pulses() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.pulses
}
