package machine

import (
	"fmt"
	"sort"

	fly "github.com/superfly/fly-go"
)

var profiles = map[string]fly.MachineGuest{
	"shared-cpu-1x":  {CPUKind: "shared", CPUs: 1, MemoryMB: 256},
	"shared-cpu-2x":  {CPUKind: "shared", CPUs: 2, MemoryMB: 512},
	"shared-cpu-4x":  {CPUKind: "shared", CPUs: 4, MemoryMB: 1024},
	"shared-cpu-8x":  {CPUKind: "shared", CPUs: 8, MemoryMB: 2048},
	"performance-1x": {CPUKind: "performance", CPUs: 1, MemoryMB: 2048},
	"performance-2x": {CPUKind: "performance", CPUs: 2, MemoryMB: 4096},
	"performance-4x": {CPUKind: "performance", CPUs: 4, MemoryMB: 8192},
	"performance-8x": {CPUKind: "performance", CPUs: 8, MemoryMB: 16384},
}

// Profiles lists the known machine profile names in order.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func GuestForProfile(profile string) (*fly.MachineGuest, error) {
	g, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown machine profile %q", profile)
	}
	return &g, nil
}

func sameGuest(cfg *fly.MachineConfig, want *fly.MachineGuest) bool {
	if cfg == nil || cfg.Guest == nil {
		return false
	}
	got := cfg.Guest
	return got.CPUKind == want.CPUKind && got.CPUs == want.CPUs && got.MemoryMB == want.MemoryMB
}
