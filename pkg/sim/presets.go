package sim

import (
	"fmt"
	"sort"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// Transceiver link ids.
const (
	LinkTx  uint = 0
	LinkRx  uint = 1
	LinkORx uint = 2
)

var presets = map[string]func() BoardSpec{
	"adrv9009": adrv9009Board,
	"fmcdaq2":  fmcdaq2Board,
}

// PresetNames lists the built-in boards.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a built-in board.
func Preset(name string) (BoardSpec, error) {
	fn, ok := presets[name]
	if !ok {
		return BoardSpec{}, fmt.Errorf("unknown board %q", name)
	}
	return fn(), nil
}

// adrv9009Board is a transceiver with rx and tx links behind one clock chip.
func adrv9009Board() BoardSpec {
	sysref := jesd204.SysrefParams{Mode: jesd204.SysrefOneshot}
	return BoardSpec{
		Name: "adrv9009",
		Clock: &ClockChipConfig{
			Name:         "hmc7044",
			PLL2Freq:     2949120000,
			TwoLevelSync: true,
		},
		Topologies: []TopologySpec{
			{
				Name:     "trx",
				UseClock: true,
				Converter: ConverterConfig{
					Name:         "adrv9009-phy",
					DeviceClock:  245760000,
					PLLLockPolls: 2,
					MCSPulses:    3,
					MaxLinks:     3,
					Profile: []jesd204.Link{
						{
							ID:                  LinkTx,
							IsTransmit:          true,
							Subclass:            jesd204.Subclass1,
							Version:             jesd204.VersionB,
							Encoder:             jesd204.Encoder8B10B,
							NumLanes:            4,
							NumConverters:       4,
							OctetsPerFrame:      2,
							FramesPerMultiframe: 32,
							BitsPerSample:       16,
							ConverterResolution: 16,
							SamplesPerConvFrame: 1,
							Scrambling:          true,
							SampleRate:          245760000,
							Sysref:              sysref,
						},
						{
							ID:                  LinkRx,
							Subclass:            jesd204.Subclass1,
							Version:             jesd204.VersionB,
							Encoder:             jesd204.Encoder8B10B,
							NumLanes:            2,
							NumConverters:       4,
							OctetsPerFrame:      4,
							FramesPerMultiframe: 32,
							BitsPerSample:       16,
							ConverterResolution: 16,
							SamplesPerConvFrame: 1,
							Scrambling:          true,
							SampleRate:          245760000,
							Sysref:              sysref,
						},
					},
				},
				Cores: []LinkCoreConfig{
					{Name: "axi-adrv9009-tx-jesd", LinkID: LinkTx},
					{Name: "axi-adrv9009-rx-jesd", LinkID: LinkRx, SyncPolls: 2},
				},
			},
		},
	}
}

// fmcdaq2Board has separate ADC and DAC topologies. The DAC link runs
// in subclass 0 and needs no SYSREF.
func fmcdaq2Board() BoardSpec {
	return BoardSpec{
		Name: "fmcdaq2",
		Clock: &ClockChipConfig{
			Name:     "ad9523",
			PLL2Freq: 3000000000,
		},
		Topologies: []TopologySpec{
			{
				Name:     "rx",
				UseClock: true,
				Converter: ConverterConfig{
					Name:        "ad9680",
					DeviceClock: 250000000,
					Profile: []jesd204.Link{
						{
							ID:                  1,
							Subclass:            jesd204.Subclass1,
							Version:             jesd204.VersionB,
							Encoder:             jesd204.Encoder8B10B,
							NumLanes:            4,
							NumConverters:       2,
							OctetsPerFrame:      1,
							FramesPerMultiframe: 32,
							BitsPerSample:       16,
							ConverterResolution: 14,
							SamplesPerConvFrame: 1,
							Scrambling:          true,
							SampleRate:          1000000000,
							Sysref:              jesd204.SysrefParams{Mode: jesd204.SysrefContinuous},
						},
					},
				},
				Cores: []LinkCoreConfig{
					{Name: "axi-ad9680-jesd", LinkID: 1, SyncPolls: 1},
				},
			},
			{
				Name: "tx",
				Converter: ConverterConfig{
					Name:        "ad9144",
					DeviceClock: 250000000,
					Profile: []jesd204.Link{
						{
							ID:                  2,
							IsTransmit:          true,
							Subclass:            jesd204.Subclass0,
							Version:             jesd204.VersionB,
							Encoder:             jesd204.Encoder8B10B,
							NumLanes:            4,
							NumConverters:       2,
							OctetsPerFrame:      1,
							FramesPerMultiframe: 32,
							BitsPerSample:       16,
							ConverterResolution: 16,
							SamplesPerConvFrame: 1,
							Scrambling:          true,
							SampleRate:          1000000000,
						},
					},
				},
				Cores: []LinkCoreConfig{
					{Name: "axi-ad9144-jesd", LinkID: 2},
				},
			},
		},
	}
}
