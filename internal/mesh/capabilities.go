// Package mesh implements node discovery, placement, and task dispatch
// across a set of cooperating sykli daemons (spec §4.7): each node
// advertises labels and capabilities, tasks declare required labels, and a
// coordinator-less peer picks where to run.
package mesh

import (
	"context"
	"runtime"
	"strings"
	"time"

	dockerclient "github.com/docker/docker/client"
)

// Capabilities describes one node's placement-relevant properties.
type Capabilities struct {
	Labels          []string `json:"labels"`
	CPUs            int      `json:"cpus"`
	MemoryMB        int      `json:"memory_mb"`
	DriverAvailable bool     `json:"driver_available"`
}

// osLabel maps Go's GOOS to a single OS label: darwin, windows and linux
// keep their names, and any other OS is reported as "unix".
func osLabel() string {
	switch runtime.GOOS {
	case "darwin":
		return "darwin"
	case "windows":
		return "windows"
	case "linux":
		return "linux"
	default:
		return "unix"
	}
}

func archLabel() string {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64"
	case "amd64":
		return "amd64"
	default:
		return runtime.GOARCH
	}
}

// Discover computes a node's base capabilities: auto-detected OS/arch
// labels plus user labels parsed from userLabelsCSV (a comma-separated
// list, each entry trimmed of surrounding whitespace, empties dropped).
// driverAvailable reports whether the local container runtime is usable.
func Discover(userLabelsCSV string, cpus, memoryMB int, driverAvailable bool) Capabilities {
	labels := []string{osLabel(), archLabel()}
	for _, l := range strings.Split(userLabelsCSV, ",") {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	return Capabilities{
		Labels:          labels,
		CPUs:            cpus,
		MemoryMB:        memoryMB,
		DriverAvailable: driverAvailable,
	}
}

// HasLabel reports whether c carries label.
func (c Capabilities) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ProbeDriver reports whether a local container runtime answers a ping
// within a short timeout, the same client construction local.Target uses.
func ProbeDriver(ctx context.Context) bool {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = cli.Ping(ctx)
	return err == nil
}

// HasAll reports whether c carries every label in required.
func (c Capabilities) HasAll(required []string) bool {
	for _, r := range required {
		if !c.HasLabel(r) {
			return false
		}
	}
	return true
}
