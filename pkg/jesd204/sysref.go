package jesd204

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Sysref decides when SYSREF is requested for the links of a topology.
// It holds no hardware handle; pulses are issued through the provider
// device's SysrefFunc matching the link's SysrefMethod.
type Sysref struct {
	provider *Device

	lock   sync.Mutex
	armed  map[uint]bool
	issued map[uint]int
	total  int
}

// NewSysref creates a coordinator issuing through provider, which may be nil.
func NewSysref(provider *Device) *Sysref {
	return &Sysref{
		provider: provider,
		armed:    make(map[uint]bool),
		issued:   make(map[uint]int),
	}
}

// Async requests SYSREF according to the link's mode: nothing when
// disabled or subclass 0, once per arming when continuous, every call
// when one-shot.
func (s *Sysref) Async(ctx context.Context, lnk *Link) error {
	if lnk == nil {
		return fmt.Errorf("sysref: nil link")
	}
	if lnk.Subclass == Subclass0 {
		return nil
	}
	switch lnk.Sysref.Mode {
	case SysrefDisabled:
		return nil
	case SysrefContinuous:
		s.lock.Lock()
		armed := s.armed[lnk.ID]
		s.lock.Unlock()
		if armed {
			glog.V(3).Infof("sysref: link %d continuous, already armed", lnk.ID)
			return nil
		}
	}
	return s.issue(ctx, lnk)
}

// AsyncForce requests SYSREF bypassing mode and armed checks. A nil lnk
// issues a pulse without per-link accounting, preferring the SPI command.
func (s *Sysref) AsyncForce(ctx context.Context, lnk *Link) error {
	return s.issue(ctx, lnk)
}

func (s *Sysref) issue(ctx context.Context, lnk *Link) error {
	if s.provider == nil {
		return ErrNoSysrefProvider
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fn, method := s.issuer(lnk)
	if fn == nil {
		return fmt.Errorf("sysref %s: %w: %s", s.provider.name, ErrSysrefMethod, method)
	}
	if err := fn(ctx, s.provider, lnk); err != nil {
		return fmt.Errorf("sysref %s: %w", s.provider.name, err)
	}
	s.lock.Lock()
	s.total++
	if lnk != nil {
		s.issued[lnk.ID]++
		if lnk.Sysref.Mode == SysrefContinuous {
			s.armed[lnk.ID] = true
		}
	}
	s.lock.Unlock()
	if lnk != nil {
		glog.V(2).Infof("sysref: %s issued for link %d (%s, %s)", s.provider.name, lnk.ID, lnk.Sysref.Mode, method)
	} else {
		glog.V(2).Infof("sysref: %s issued (%s)", s.provider.name, method)
	}
	return nil
}

func (s *Sysref) issuer(lnk *Link) (SysrefFunc, SysrefMethod) {
	data := &s.provider.data
	if lnk == nil {
		if data.Sysref == nil {
			return data.SysrefPin, SysrefMethodPin
		}
		return data.Sysref, SysrefMethodSPI
	}
	switch lnk.Sysref.Method {
	case SysrefMethodSPI:
		return data.Sysref, SysrefMethodSPI
	case SysrefMethodPin:
		return data.SysrefPin, SysrefMethodPin
	}
	return nil, lnk.Sysref.Method
}

// Issued returns the number of requests issued for a link.
func (s *Sysref) Issued(linkID uint) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.issued[linkID]
}

// Total returns the number of requests issued, including ones without a link.
func (s *Sysref) Total() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.total
}

// Reset clears armed state and counters.
func (s *Sysref) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.armed = make(map[uint]bool)
	s.issued = make(map[uint]int)
	s.total = 0
}
