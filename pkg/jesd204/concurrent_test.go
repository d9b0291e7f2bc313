package jesd204

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// cycleTopology builds a clock chip and a converter carrying link n on
// reg, runs cycles bring-ups and teardowns, then removes everything.
func cycleTopology(reg *Registry, n, cycles int) error {
	ctx := context.Background()
	var inits, uninits, pulses int
	var ops [NumStages]StateOp
	for s := range ops {
		ops[s] = StateOp{Func: func(ctx context.Context, dev *Device, reason Reason, lnk *Link) (Result, error) {
			if reason == ReasonInit {
				inits++
			} else {
				uninits++
			}
			return ResultDone, nil
		}}
	}
	clkOps, convOps := ops, ops
	for s := range clkOps {
		clkOps[s].Mode = ModePerDevice
	}
	convOps[StageLinkSetup].PostSysref = true

	clk, err := reg.Register(fmt.Sprintf("hmc7044.%d", n), nil, DeviceData{
		StateOps: clkOps,
		Sysref: func(context.Context, *Device, *Link) error {
			pulses++
			return nil
		},
	}, false)
	if err != nil {
		return err
	}
	conv, err := reg.Register(fmt.Sprintf("ad9680.%d", n), nil, DeviceData{
		StateOps: convOps,
		Links: []Link{{
			ID:       uint(n),
			Subclass: Subclass1,
			Sysref:   SysrefParams{Mode: SysrefOneshot},
		}},
	}, true)
	if err != nil {
		return err
	}
	topo, err := NewTopology(reg, []TopologyDevice{
		{Device: clk, LinkIDs: []uint{uint(n)}},
		{Device: conv, LinkIDs: []uint{uint(n)}},
	})
	if err != nil {
		return err
	}

	fsm := NewFSM(topo)
	for c := 0; c < cycles; c++ {
		res, err := fsm.Start(ctx)
		if err != nil {
			return err
		}
		if res != ResultDone {
			return fmt.Errorf("topology %d cycle %d: %s", n, c, res)
		}
		if conv.Topology() != topo || !topo.Active() {
			return fmt.Errorf("topology %d cycle %d: not attached", n, c)
		}
		if err := fsm.Stop(ctx); err != nil {
			return err
		}
	}
	if expected := cycles * NumStages * 2; inits != expected || uninits != expected {
		return fmt.Errorf("topology %d: %d inits, %d uninits, expect %d", n, inits, uninits, expected)
	}
	if pulses != cycles {
		return fmt.Errorf("topology %d: %d sysref pulses, expect %d", n, pulses, cycles)
	}

	if err := topo.Remove(); err != nil {
		return err
	}
	for _, dev := range []*Device{clk, conv} {
		if err := reg.Unregister(dev); err != nil {
			return err
		}
	}
	return nil
}

func TestConcurrentTopologies(t *testing.T) {
	const topologies, cycles = 4, 50
	reg := NewRegistry()
	errCh := make(chan error, topologies)
	var wg sync.WaitGroup
	for n := 0; n < topologies; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errCh <- cycleTopology(reg, n, cycles)
		}(n)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := 0; c < cycles; c++ {
			for _, dev := range reg.Devices() {
				reg.Lookup(dev.Name())
			}
		}
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Empty(t, reg.Devices())
}
