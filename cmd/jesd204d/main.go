package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/physic"

	"github.com/robotalks/jesd204.go/pkg/agent"
	env "github.com/robotalks/jesd204.go/pkg/agent/env/daemon"
	"github.com/robotalks/jesd204.go/pkg/bringup"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/hal"
	"github.com/robotalks/jesd204.go/pkg/jesd204"
	"github.com/robotalks/jesd204.go/pkg/sim"
	"github.com/robotalks/jesd204.go/pkg/status"
	"github.com/robotalks/jesd204.go/pkg/status/redis"
)

var (
	preset    = "fmcdaq2"
	boardFile string
	spiPort   string
	spiHz     = int64(10000000)
	sysrefPin string
	pinLinks  string
	onlyLinks string
	redisURL  string
	once      bool
)

func init() {
	if val := os.Getenv("JESD_REDIS_URL"); val != "" {
		redisURL = val
	}
	flag.StringVar(&preset, "preset", preset, "Board preset: adrv9009, fmcdaq2.")
	flag.StringVar(&boardFile, "board-file", boardFile, "Board description in JSON, overrides -preset.")
	flag.StringVar(&spiPort, "spi", spiPort, "SPI port of the clock chip, empty to simulate registers.")
	flag.Int64Var(&spiHz, "spi-hz", spiHz, "SPI clock in Hz.")
	flag.StringVar(&sysrefPin, "sysref-pin", sysrefPin, "GPIO requesting SYSREF for links using the pin method.")
	flag.StringVar(&pinLinks, "pin-links", pinLinks, "Links switched to pin SYSREF requests, e.g. rx:1,trx:2.")
	flag.StringVar(&onlyLinks, "links", onlyLinks, "Bring up only these links, e.g. rx:1,trx:2. Unlisted topologies bring up all links.")
	flag.StringVar(&redisURL, "redis", redisURL, "Redis URL receiving bring-up status.")
	flag.BoolVar(&once, "once", once, "Bring up every topology, tear down and exit.")
	env.SetupFlags()
	bringup.SetupFlags()
}

func loadSpec() (sim.BoardSpec, error) {
	if boardFile == "" {
		return sim.Preset(preset)
	}
	var spec sim.BoardSpec
	data, err := ioutil.ReadFile(boardFile)
	if err != nil {
		return spec, err
	}
	if err = json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("%s: %v", boardFile, err)
	}
	return spec, nil
}

// parseLinks parses a TOPOLOGY:LINK list into link ids per topology.
func parseLinks(list string) (map[string][]uint, error) {
	links := make(map[string][]uint)
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid link %q, expect TOPOLOGY:LINK", item)
		}
		id, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid link %q: %v", item, err)
		}
		links[parts[0]] = append(links[parts[0]], uint(id))
	}
	return links, nil
}

// usePinSysref switches the listed topology:link pairs to pin requests.
func usePinSysref(spec *sim.BoardSpec, list string) error {
	links, err := parseLinks(list)
	if err != nil {
		return err
	}
	for name, ids := range links {
		for _, id := range ids {
			found := false
			for n := range spec.Topologies {
				topo := &spec.Topologies[n]
				if topo.Name != name {
					continue
				}
				for i := range topo.Converter.Profile {
					if lnk := &topo.Converter.Profile[i]; lnk.ID == id {
						lnk.Sysref.Method = jesd204.SysrefMethodPin
						found = true
					}
				}
			}
			if !found {
				return fmt.Errorf("pin link %s:%d not found on board %s", name, id, spec.Name)
			}
		}
	}
	return nil
}

// fsmOptions limits the topologies named in the -links list.
func fsmOptions(links map[string][]uint, name string) []jesd204.FSMOption {
	if ids, ok := links[name]; ok {
		return []jesd204.FSMOption{jesd204.WithLinks(ids...)}
	}
	return nil
}

func openBus() (conn.Conn, func(), error) {
	if spiPort == "" {
		return sim.NewRegisterFile("sim"), func() {}, nil
	}
	port, err := hal.OpenSPIPort(spiPort)
	if err != nil {
		return nil, nil, err
	}
	c, err := hal.OpenSPI(port, physic.Frequency(spiHz)*physic.Hertz)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	return c, func() { port.Close() }, nil
}

func bringUpOnce(board *sim.Board, links map[string][]uint) error {
	ctx := context.Background()
	var errs fx.AggregatedError
	for _, bt := range board.Topologies {
		fsm := jesd204.NewFSM(bt.Topology, fsmOptions(links, bt.Name)...)
		err := bringup.Default().RetryPolicy().Run(ctx, fsm)
		st := fsm.Status()
		if err != nil {
			glog.Errorf("%s: %v", bt.Name, err)
			errs.Add(err)
		} else {
			fmt.Printf("%s: running after %d passes\n", bt.Name, st.Passes)
		}
		errs.Add(fsm.Stop(ctx))
	}
	return errs.Aggregate()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if spiPort != "" || sysrefPin != "" {
		if err := hal.InitHost(); err != nil {
			glog.Exitf("host init: %v", err)
		}
	}
	spec, err := loadSpec()
	if err != nil {
		glog.Exit(err)
	}
	if err := usePinSysref(&spec, pinLinks); err != nil {
		glog.Exit(err)
	}
	links, err := parseLinks(onlyLinks)
	if err != nil {
		glog.Exit(err)
	}
	bus, closeBus, err := openBus()
	if err != nil {
		glog.Exit(err)
	}
	defer closeBus()

	board, err := sim.NewBoard(jesd204.NewRegistry(), spec, bus)
	if err != nil {
		glog.Exit(err)
	}
	defer board.Close()
	if sysrefPin != "" && board.Clock != nil {
		pin, err := hal.LookupPin(sysrefPin)
		if err != nil {
			glog.Exit(err)
		}
		board.Clock.Pin = hal.PinSysref(pin, hal.DefaultPulseWidth, nil)
	}

	if once {
		if err := bringUpOnce(board, links); err != nil {
			glog.Exit(err)
		}
		return
	}

	meta := agent.AgentMeta{Description: "JESD204 bring-up agent for " + board.Name}
	for _, bt := range board.Topologies {
		meta.Topologies = append(meta.Topologies, bt.Name)
	}
	conf := env.Default()
	if conf.Info.Ref.Board == "" {
		conf.SetBoard(board.Name, meta)
	} else {
		conf.Info.Meta = meta
	}
	e := conf.MustNewEnv()

	ctl := bringup.Default().NewController(board.Name)
	ctl.Registrar = e.Registrar
	sinks := status.Multi{status.LogSink{}}
	if redisURL != "" {
		sinks = append(sinks, redis.NewSink(redis.NewPool(redisURL)))
	}
	ctl.Sink = sinks
	for _, bt := range board.Topologies {
		if err := ctl.Add(bt.Name, bt.Topology, fsmOptions(links, bt.Name)...); err != nil {
			glog.Exit(err)
		}
	}

	glog.Infof("agent %s registered at %v", conf.Info.Ref.Name(), e.RegistryURLs)
	err = fx.NewRunner().HandleSignals().Go(fx.NewLoop().Add(e, ctl)).Wait()
	if err != nil {
		glog.Error(err)
	}
	if err := ctl.Shutdown(context.Background()); err != nil {
		glog.Error(err)
	}
}
