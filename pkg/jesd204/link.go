package jesd204

import (
	"fmt"
)

// Subclass is the JESD204 deterministic latency subclass.
type Subclass uint8

// Subclasses.
const (
	Subclass0 Subclass = iota
	Subclass1
	Subclass2
)

// Version is the JESD204 standard revision.
type Version uint8

// Versions.
const (
	VersionA Version = iota
	VersionB
	VersionC
)

func (v Version) String() string {
	if v > VersionC {
		return fmt.Sprintf("version(%d)", uint8(v))
	}
	return "JESD204" + string('A'+rune(v))
}

// Encoder is the line coding scheme.
type Encoder uint8

// Encoders.
const (
	EncoderUnknown Encoder = iota
	Encoder8B10B
	Encoder64B66B
	Encoder64B80B
)

func (e Encoder) String() string {
	switch e {
	case EncoderUnknown:
		return "unknown"
	case Encoder8B10B:
		return "8b10b"
	case Encoder64B66B:
		return "64b66b"
	case Encoder64B80B:
		return "64b80b"
	}
	return fmt.Sprintf("encoder(%d)", uint8(e))
}

// SysrefMode selects how SYSREF is delivered to the link.
type SysrefMode uint8

// SYSREF modes.
const (
	SysrefDisabled SysrefMode = iota
	SysrefContinuous
	SysrefOneshot
)

func (m SysrefMode) String() string {
	switch m {
	case SysrefDisabled:
		return "disabled"
	case SysrefContinuous:
		return "continuous"
	case SysrefOneshot:
		return "oneshot"
	}
	return fmt.Sprintf("sysref_mode(%d)", uint8(m))
}

// SysrefMethod selects how a SYSREF request is issued.
type SysrefMethod uint8

// SYSREF request methods.
const (
	SysrefMethodSPI SysrefMethod = iota
	SysrefMethodPin
)

func (m SysrefMethod) String() string {
	switch m {
	case SysrefMethodSPI:
		return "spi"
	case SysrefMethodPin:
		return "pin"
	}
	return fmt.Sprintf("sysref_method(%d)", uint8(m))
}

// SysrefParams describes SYSREF handling of a link.
type SysrefParams struct {
	Mode               SysrefMode
	Method             SysrefMethod
	LMFCOffset         uint16
	CaptureFallingEdge bool
	ValidFallingEdge   bool
}

// Link describes one JESD204 link. Field names follow the usual
// JESD204 letters: L lanes, M converters, F octets per frame,
// K frames per multiframe, N resolution, N' bits per sample,
// CS control bits, S samples per converter per frame, E multiblocks
// in an extended multiblock.
type Link struct {
	ID         uint
	IsTransmit bool

	Subclass Subclass
	Version  Version
	Encoder  Encoder

	NumLanes            uint8
	LaneIDs             []uint8
	NumConverters       uint8
	OctetsPerFrame      uint8
	FramesPerMultiframe uint16
	BitsPerSample       uint8
	ConverterResolution uint8
	CtrlBitsPerSample   uint8
	SamplesPerConvFrame uint8
	NumMultiblocksInEMB uint8
	HighDensity         bool
	Scrambling          bool

	DeviceID uint8
	BankID   uint8

	// SampleRate is the converter sample rate in Hz.
	SampleRate    uint64
	SampleRateDiv uint32

	Sysref SysrefParams

	frozen bool
}

// Frozen indicates the link reached LINK_RUNNING and its parameters are locked.
func (l *Link) Frozen() bool {
	return l.frozen
}

// Encoding returns the effective encoder, resolving EncoderUnknown from the version.
func (l *Link) Encoding() Encoder {
	if l.Encoder != EncoderUnknown {
		return l.Encoder
	}
	if l.Version == VersionC {
		return Encoder64B66B
	}
	return Encoder8B10B
}

// Validate checks static consistency of the link description.
func (l *Link) Validate() error {
	if l.Subclass > Subclass2 {
		return fmt.Errorf("%w: subclass %d", ErrInvalidLinkParams, l.Subclass)
	}
	if l.Version > VersionC {
		return fmt.Errorf("%w: %s", ErrInvalidLinkParams, l.Version)
	}
	if l.Sysref.Mode > SysrefOneshot {
		return fmt.Errorf("%w: %s", ErrInvalidLinkParams, l.Sysref.Mode)
	}
	if l.Sysref.Method > SysrefMethodPin {
		return fmt.Errorf("%w: %s", ErrInvalidLinkParams, l.Sysref.Method)
	}
	switch l.Encoder {
	case EncoderUnknown:
	case Encoder8B10B:
		if l.Version == VersionC {
			return fmt.Errorf("%w: %s requires 64b66b or 64b80b", ErrInvalidLinkParams, l.Version)
		}
	case Encoder64B66B, Encoder64B80B:
		if l.Version != VersionC {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidLinkParams, l.Encoder, VersionC)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLinkParams, l.Encoder)
	}
	if len(l.LaneIDs) != 0 && len(l.LaneIDs) != int(l.NumLanes) {
		return fmt.Errorf("%w: %d lane ids for %d lanes", ErrInvalidLinkParams, len(l.LaneIDs), l.NumLanes)
	}
	return nil
}

func (l *Link) encodingRatio() (n, d uint64) {
	switch l.Encoding() {
	case Encoder64B66B:
		return 66, 64
	case Encoder64B80B:
		return 80, 64
	}
	return 10, 8
}

// Rate returns the lane rate in Hz.
func (l *Link) Rate() (uint64, error) {
	if l.NumLanes == 0 || l.NumConverters == 0 || l.BitsPerSample == 0 || l.SampleRate == 0 {
		return 0, fmt.Errorf("%w: link %d needs L, M, N' and sample rate", ErrInvalidLinkParams, l.ID)
	}
	sampleRate := l.SampleRate
	if div := uint64(l.SampleRateDiv); div > 1 {
		sampleRate = (sampleRate + div/2) / div
	}
	encN, encD := l.encodingRatio()
	rate := uint64(l.NumConverters) * uint64(l.BitsPerSample) * encN * sampleRate
	return rate / (uint64(l.NumLanes) * encD), nil
}

// RateKHz returns the lane rate in kHz.
func (l *Link) RateKHz() (uint64, error) {
	rate, err := l.Rate()
	if err != nil {
		return 0, err
	}
	return rate / 1000, nil
}

// DeviceClock returns the device clock in Hz derived from the lane rate.
func (l *Link) DeviceClock() (uint64, error) {
	rate, err := l.Rate()
	if err != nil {
		return 0, err
	}
	switch l.Encoding() {
	case Encoder64B66B:
		return rate / 66, nil
	case Encoder64B80B:
		return rate / 80, nil
	}
	return rate / 40, nil
}

// LMFCLEMCRate returns the LMFC rate (8b10b) or LEMC rate (64b66b, 64b80b) in Hz.
func (l *Link) LMFCLEMCRate() (uint64, error) {
	rate, err := l.Rate()
	if err != nil {
		return 0, err
	}
	switch enc := l.Encoding(); enc {
	case Encoder64B66B, Encoder64B80B:
		bkw := uint64(66)
		if enc == Encoder64B80B {
			bkw = 80
		}
		e := uint64(l.NumMultiblocksInEMB)
		if e == 0 {
			e = 1
		}
		return rate / (bkw * 32 * e), nil
	}
	if l.OctetsPerFrame == 0 || l.FramesPerMultiframe == 0 {
		return 0, fmt.Errorf("%w: link %d needs F and K", ErrInvalidLinkParams, l.ID)
	}
	return rate / (10 * uint64(l.OctetsPerFrame) * uint64(l.FramesPerMultiframe)), nil
}

// CopyLinkParams copies negotiable parameters from src into dst. Locked
// fields (id, direction, subclass, version, effective encoder) must already
// agree; otherwise a *LinkConflictError is returned and dst is untouched.
func CopyLinkParams(dst, src *Link) error {
	if dst.frozen {
		return fmt.Errorf("link %d: %w", dst.ID, ErrLinkFrozen)
	}
	locked := []struct {
		field    string
		dst, src interface{}
	}{
		{"id", dst.ID, src.ID},
		{"is_transmit", dst.IsTransmit, src.IsTransmit},
		{"subclass", dst.Subclass, src.Subclass},
		{"version", dst.Version, src.Version},
		{"encoder", dst.Encoding(), src.Encoding()},
	}
	for _, f := range locked {
		if f.dst != f.src {
			return &LinkConflictError{LinkID: dst.ID, Field: f.field, Dst: f.dst, Src: f.src}
		}
	}

	frozen := dst.frozen
	*dst = *src
	dst.frozen = frozen
	if src.LaneIDs != nil {
		dst.LaneIDs = append([]uint8(nil), src.LaneIDs...)
	}
	return nil
}
