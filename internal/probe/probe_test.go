package probe

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"golang.org/x/crypto/ssh"
)

// fakeRunner returns canned output per command name
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.outputs[name], nil
}

const procRoute = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	0000A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
eth0	00000000	0101A8C0	0003	0	0	100	00000000	0	0	0
`

func TestParseProcRoute(t *testing.T) {
	t.Run("finds default gateway", func(t *testing.T) {
		gw, err := ParseProcRoute(procRoute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gw != "192.168.1.1" {
			t.Errorf("expected 192.168.1.1, got %s", gw)
		}
	})

	t.Run("no default route", func(t *testing.T) {
		_, err := ParseProcRoute("Iface\tDestination\tGateway\neth0\t0000A8C0\t00000000\n")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestParseIPRoute(t *testing.T) {
	gw, err := ParseIPRoute("default via 10.0.0.1 dev wlan0 proto dhcp metric 600\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", gw)
	}

	if _, err := ParseIPRoute(""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestGatewayProbeFallsBackToIPRoute(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"ip": "default via 172.16.0.1 dev eth0",
	}}
	probe := &GatewayProbe{RoutePath: filepath.Join(t.TempDir(), "missing"), Runner: runner}

	gw, err := probe.Gateway(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw != "172.16.0.1" {
		t.Errorf("expected 172.16.0.1, got %s", gw)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected 1 command, got %v", runner.calls)
	}
}

const procARP = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         AA:BB:CC:DD:EE:01     *        eth0
192.168.1.5      0x1         0x2         aa:bb:cc:dd:ee:05     *        eth0
192.168.1.9      0x1         0x0         00:00:00:00:00:00     *        eth0
`

func TestParseProcARP(t *testing.T) {
	entries := ParseProcARP(procARP)
	expected := []ARPEntry{
		{Address: "192.168.1.1", MAC: "aa:bb:cc:dd:ee:01", Device: "eth0"},
		{Address: "192.168.1.5", MAC: "aa:bb:cc:dd:ee:05", Device: "eth0"},
	}
	if !reflect.DeepEqual(entries, expected) {
		t.Errorf("expected %v, got %v", expected, entries)
	}
}

func TestParseARPCommand(t *testing.T) {
	out := `? (192.168.1.1) at aa:bb:cc:dd:ee:01 [ether] on eth0
? (192.168.1.7) at <incomplete> on eth0
gateway (10.0.0.1) at 11:22:33:44:55:66 on en0 ifscope [ethernet]`

	entries := ParseARPCommand(out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), entries)
	}
	if entries[0].Device != "eth0" || entries[1].Address != "10.0.0.1" {
		t.Errorf("unexpected entries %v", entries)
	}
}

func TestNeighborProbeLookup(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"arp": "? (192.168.1.5) at aa:bb:cc:dd:ee:05 [ether] on eth0",
	}}
	probe := &NeighborProbe{ARPPath: filepath.Join(t.TempDir(), "missing"), Runner: runner}
	ctx := context.Background()

	mac, err := probe.Lookup(ctx, "192.168.1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mac != "aa:bb:cc:dd:ee:05" {
		t.Errorf("expected mac, got %s", mac)
	}

	if _, err := probe.Lookup(ctx, "192.168.1.6"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	neighbors, err := probe.Neighbors(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(neighbors, []string{"192.168.1.5"}) {
		t.Errorf("expected [192.168.1.5], got %v", neighbors)
	}
}

func TestParseTraceroute(t *testing.T) {
	out := `traceroute to 8.8.8.8 (8.8.8.8), 30 hops max, 60 byte packets
 1  192.168.1.1  0.512 ms
 2  *
 3  10.0.0.1  8.113 ms
 4  72.14.0.1  12.0 ms`

	hops := ParseTraceroute(out)
	expected := []string{"192.168.1.1", "*", "10.0.0.1", "72.14.0.1"}
	if !reflect.DeepEqual(hops, expected) {
		t.Errorf("expected %v, got %v", expected, hops)
	}
}

func TestTracerouteRejectsInvalidTarget(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewTraceroute(runner, 0)

	if _, err := tr.Path(context.Background(), "8.8.8.8; rm -rf /"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no command, got %v", runner.calls)
	}
}

func TestNmapHops(t *testing.T) {
	run := &nmap.Run{Hosts: []nmap.Host{{
		Trace: nmap.Trace{Hops: []nmap.Hop{
			{IPAddr: "192.168.1.1"},
			{IPAddr: ""},
			{IPAddr: "72.14.0.1"},
		}},
	}}}

	expected := []string{"192.168.1.1", "*", "72.14.0.1"}
	if got := nmapHops(run); !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
	if got := nmapHops(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestOSRunnerClassifiesErrors(t *testing.T) {
	runner := NewOSRunner()

	t.Run("missing binary", func(t *testing.T) {
		_, err := runner.Output(context.Background(), "visualinternet-definitely-missing")
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		if _, err := exec.LookPath("sleep"); err != nil {
			t.Skip("sleep not available")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := runner.Output(ctx, "sleep", "5")
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})
}

func TestReputation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ip/8.8.8.8":
			fmt.Fprint(w, `{"status":"ok","data":{"prefixes":[{"asn":{"asn":15169,"name":"GOOGLE"}}]}}`)
		case "/ip/203.0.113.1":
			fmt.Fprint(w, `{"status":"ok","data":{"prefixes":[]}}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	rep := NewReputation(srv.URL+"/ip/%s", time.Second, time.Hour)
	ctx := context.Background()

	tests := []struct {
		addr     string
		expected string
	}{
		{"8.8.8.8", "AS15169 (GOOGLE)"},
		{"192.168.1.1", LabelPrivate},
		{"10.0.0.1", LabelPrivate},
		{"203.0.113.1", LabelUnknown},
		{"1.1.1.1", LabelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := rep.Label(ctx, tt.addr); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestReputationReusesResolvedLabels(t *testing.T) {
	var hits atomic.Int32
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok","data":{"prefixes":[{"asn":{"asn":15169,"name":"GOOGLE"}}]}}`)
	}))
	defer srv.Close()

	rep := NewReputation(srv.URL+"/ip/%s", time.Second, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rep.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got := rep.Label(ctx, "8.8.8.8"); got != "AS15169 (GOOGLE)" {
			t.Fatalf("expected AS15169 (GOOGLE), got %q", got)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected 1 lookup within the ttl, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	if got := rep.Label(ctx, "8.8.8.8"); got != LabelUnknown {
		t.Errorf("expected %q after expiry with a failing api, got %q", LabelUnknown, got)
	}
	if got := rep.Label(ctx, "8.8.8.8"); got != LabelUnknown {
		t.Errorf("expected %q, got %q", LabelUnknown, got)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected failures to be retried, got %d lookups", got)
	}
}

func TestSSHHostKeyFingerprint(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		config := &ssh.ServerConfig{NoClientAuth: true}
		config.AddHostKey(signer)
		ssh.NewServerConn(conn, config)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	probe := NewSSHHostKey(2 * time.Second)

	fp, err := probe.Fingerprint(context.Background(), "127.0.0.1", port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp != ssh.FingerprintSHA256(signer.PublicKey()) {
		t.Errorf("expected %s, got %s", ssh.FingerprintSHA256(signer.PublicKey()), fp)
	}
}

func TestSTUNProbeWithoutServers(t *testing.T) {
	probe := NewSTUNProbe(nil, time.Second)
	if _, err := probe.PublicAddr(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
