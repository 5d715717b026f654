package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// DigestLength is the length in hex characters of a machine fingerprint
const DigestLength = 32

// Machine holds the identity components and the resulting digest
type Machine struct {
	Digest      string    `json:"digest"`
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	CPU         string    `json:"cpu"`
	Interfaces  string    `json:"interfaces"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generator computes a stable machine fingerprint. The result is cached
// in-process; hardware does not change mid-invocation.
type Generator struct {
	mu     sync.Mutex
	cached *Machine
}

// NewGenerator creates a fingerprint generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate computes the machine fingerprint, reusing the cached value when
// available. The digest is deterministic across calls on the same machine;
// hardware changes simply produce a new fingerprint and the authority
// negotiates a fresh activation.
func (g *Generator) Generate() (*Machine, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached != nil {
		return g.cached, nil
	}

	hostname, err := hostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("failed to resolve hostname for fingerprint, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpu := cpuIdentifier()
	ifaces := interfaceSet()

	components := []string{
		hostname,
		runtime.GOOS,
		runtime.GOARCH,
		cpu,
		ifaces,
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	digest := hex.EncodeToString(sum[:])[:DigestLength]

	machine := &Machine{
		Digest:      digest,
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		CPU:         cpu,
		Interfaces:  ifaces,
		GeneratedAt: time.Now(),
	}
	g.cached = machine

	slog.Debug("machine fingerprint generated",
		slog.String("digest", digest),
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
		slog.String("arch", runtime.GOARCH),
	)

	return machine, nil
}

// Matches reports whether the stored digest belongs to this machine
func (g *Generator) Matches(storedDigest string) (bool, error) {
	current, err := g.Generate()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Digest == storedDigest, nil
}

// hostname returns the normalized machine hostname
func hostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return name, nil
}

// cpuIdentifier returns a stable identifier for the primary CPU. Sources are
// OS-specific; every path hashes the raw value so the component has a
// uniform shape regardless of origin.
func cpuIdentifier() string {
	var raw string

	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					raw = line
					break
				}
			}
		}
	}

	if raw == "" {
		raw = fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// interfaceSet returns a stable description of the machine's network
// interfaces: the sorted set of hardware addresses of non-loopback
// interfaces. Sorting keeps the component independent of enumeration order.
func interfaceSet() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "no-interfaces"
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != "" && mac != "00:00:00:00:00:00" {
			macs = append(macs, mac)
		}
	}

	if len(macs) == 0 {
		return "no-interfaces"
	}

	sort.Strings(macs)
	return strings.Join(macs, ",")
}
