package config

import (
	"net"
	"os"
	"strings"
)

// ContainerRuntime represents specific container runtime implementations
type ContainerRuntime string

const (
	RuntimeNone       ContainerRuntime = "none"
	RuntimeDocker     ContainerRuntime = "docker"
	RuntimeKubernetes ContainerRuntime = "kubernetes"
	RuntimePodman     ContainerRuntime = "podman"
	RuntimeContainerd ContainerRuntime = "containerd"
)

// RuntimeSignature defines detection criteria for a container runtime
type RuntimeSignature struct {
	Runtime       ContainerRuntime
	FileExists    []string // Files that indicate this runtime
	EnvVars       []string // Environment variables to check
	CGroupMarkers []string // Patterns in /proc/1/cgroup
}

// RuntimeSignatures is the heuristic map of known container runtimes
// Ordered by specificity - more specific signatures first
var RuntimeSignatures = []RuntimeSignature{
	{
		Runtime:    RuntimeKubernetes,
		FileExists: []string{"/var/run/secrets/kubernetes.io/serviceaccount/token"},
		EnvVars:    []string{"KUBERNETES_SERVICE_HOST"},
	},
	{
		Runtime:       RuntimeContainerd,
		CGroupMarkers: []string{"containerd-", "/containerd/"},
	},
	{
		Runtime:       RuntimePodman,
		FileExists:    []string{"/run/.containerenv"},
		CGroupMarkers: []string{"libpod-", "/libpod/"},
	},
	{
		Runtime:       RuntimeDocker,
		FileExists:    []string{"/.dockerenv"},
		CGroupMarkers: []string{"docker-", "/docker/"},
	},
}

// Environment describes what the process can do on this host. It decides
// which scan strategy is worth trying first.
type Environment struct {
	Runtime      ContainerRuntime `json:"runtime"`
	EffectiveUID int              `json:"effective_uid"`
	CanRawSocket bool             `json:"can_raw_socket"`
	CanReadProc  bool             `json:"can_read_procfs"`
	Reasons      []string         `json:"reasons,omitempty"`
}

// environmentProbe holds the host checks so tests can replace them
type environmentProbe struct {
	stat      func(path string) bool
	getenv    func(key string) string
	readFile  func(path string) string
	rawSocket func() bool
	uid       func() int
}

func hostProbe() environmentProbe {
	return environmentProbe{
		stat:      fileExists,
		getenv:    os.Getenv,
		readFile:  readFileSafe,
		rawSocket: canOpenRawSocket,
		uid:       os.Geteuid,
	}
}

// DetectEnvironment inspects the running host
func DetectEnvironment() Environment {
	return detectEnvironment(hostProbe())
}

func detectEnvironment(p environmentProbe) Environment {
	env := Environment{
		Runtime:      RuntimeNone,
		EffectiveUID: p.uid(),
		CanRawSocket: p.rawSocket(),
		CanReadProc:  p.readFile("/proc/net/route") != "",
	}

	cgroup := p.readFile("/proc/1/cgroup")
	for _, sig := range RuntimeSignatures {
		if reasons := checkSignature(sig, p, cgroup); len(reasons) > 0 {
			env.Runtime = sig.Runtime
			env.Reasons = append(env.Reasons, reasons...)
			break // Use first (most specific) match
		}
	}

	if !env.CanRawSocket {
		env.Reasons = append(env.Reasons, "raw sockets unavailable")
	}
	if !env.CanReadProc {
		env.Reasons = append(env.Reasons, "/proc/net unreadable, probes fall back to commands")
	}
	return env
}

// ScannerStrategy resolves "auto" against the environment: without raw
// socket access the SYN attempt is skipped. Explicit strategies are kept.
func (e Environment) ScannerStrategy(configured string) string {
	if configured == "auto" && !e.CanRawSocket {
		return "connect"
	}
	return configured
}

// checkSignature tests if a runtime signature matches
func checkSignature(sig RuntimeSignature, p environmentProbe, cgroup string) []string {
	var reasons []string

	for _, path := range sig.FileExists {
		if p.stat(path) {
			reasons = append(reasons, "Found "+path)
		}
	}

	for _, envVar := range sig.EnvVars {
		if p.getenv(envVar) != "" {
			reasons = append(reasons, "Env "+envVar+" set")
		}
	}

	for _, marker := range sig.CGroupMarkers {
		if strings.Contains(cgroup, marker) {
			reasons = append(reasons, "CGroup marker: "+marker)
		}
	}

	return reasons
}

// canOpenRawSocket tries the same raw TCP socket the SYN scanner needs
func canOpenRawSocket() bool {
	conn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// readFileSafe reads a file, returning empty string on error
func readFileSafe(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
