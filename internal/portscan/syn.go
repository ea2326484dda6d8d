package portscan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sync/errgroup"

	"visualinternet/internal/domain"
)

// SYNScanner performs a half-open scan over a raw IPv4 socket
type SYNScanner struct {
	// Timeout bounds the whole scan, sends and replies included
	Timeout time.Duration
	// MaxInFlight limits concurrent senders
	MaxInFlight int

	listen func(network, address string) (net.PacketConn, error)
}

// NewSYNScanner creates a half-open scanner
func NewSYNScanner(timeout time.Duration) *SYNScanner {
	return &SYNScanner{
		Timeout:     timeout,
		MaxInFlight: 256,
		listen:      net.ListenPacket,
	}
}

// Name returns the strategy identifier
func (s *SYNScanner) Name() string {
	return StrategySYN
}

// Scan sends a SYN to every port of r at once and collects SYN-ACKs until
// every port has answered or the timeout expires. Each SYN-ACK is answered
// with a RST. Returns ErrPermissionDenied without raw socket capability.
func (s *SYNScanner) Scan(ctx context.Context, addr string, r Range) ([]int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	dstAddr, err := domain.ParseIPv4(addr)
	if err != nil {
		return nil, err
	}
	dst := net.IP(dstAddr.AsSlice())

	src, err := outboundAddr(dst)
	if err != nil {
		return nil, fmt.Errorf("no route to %s: %w", addr, err)
	}

	listen := s.listen
	if listen == nil {
		listen = net.ListenPacket
	}
	conn, err := listen("ip4:tcp", src.String())
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: raw socket: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	defer conn.Close()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := scanCtx.Deadline()
	conn.SetReadDeadline(deadline)

	probe := synProbe{
		conn:    conn,
		src:     src,
		dst:     dst,
		srcPort: layers.TCPPort(32768 + rand.IntN(28232)),
		seq:     rand.Uint32(),
	}

	replies := make(chan map[int]bool, 1)
	go func() {
		replies <- probe.collect(r)
	}()
	go func() {
		<-scanCtx.Done()
		// unblock the collector
		conn.SetReadDeadline(time.Now())
	}()

	g, gctx := errgroup.WithContext(scanCtx)
	limit := s.MaxInFlight
	if limit <= 0 {
		limit = r.Size()
	}
	g.SetLimit(limit)
	for _, port := range r.Ports() {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return probe.send(layers.TCPPort(port), probe.seq, true)
		})
	}
	sendErr := g.Wait()
	if sendErr != nil {
		cancel()
	}

	open := <-replies
	if sendErr != nil {
		if errors.Is(sendErr, os.ErrPermission) {
			return nil, fmt.Errorf("%w: send: %v", ErrPermissionDenied, sendErr)
		}
		return nil, fmt.Errorf("send probes to %s: %w", addr, sendErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %s cancelled: %w", addr, err)
	}

	return sortedPorts(open), nil
}

// synProbe holds the per-scan socket and TCP identity
type synProbe struct {
	conn    net.PacketConn
	src     net.IP
	dst     net.IP
	srcPort layers.TCPPort
	seq     uint32
}

// send writes a SYN (syn=true) or RST segment to port
func (p synProbe) send(port layers.TCPPort, seq uint32, syn bool) error {
	tcp := &layers.TCP{
		SrcPort: p.srcPort,
		DstPort: port,
		Seq:     seq,
		Window:  1024,
		SYN:     syn,
		RST:     !syn,
	}
	ip := &layers.IPv4{SrcIP: p.src, DstIP: p.dst, Protocol: layers.IPProtocolTCP}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, tcp); err != nil {
		return err
	}

	_, err := p.conn.WriteTo(buf.Bytes(), &net.IPAddr{IP: p.dst})
	return err
}

// collect reads replies until every port in r answered or the read
// deadline passes. Ports answering SYN-ACK are open and get a RST.
func (p synProbe) collect(r Range) map[int]bool {
	open := make(map[int]bool)
	answered := make(map[int]bool)
	buf := make([]byte, 1500)

	for len(answered) < r.Size() {
		n, from, err := p.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				log.Printf("Scanner: raw socket read: %v", err)
			}
			break
		}
		ipAddr, ok := from.(*net.IPAddr)
		if !ok || !ipAddr.IP.Equal(p.dst) {
			continue
		}

		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(buf[:n], gopacket.NilDecodeFeedback); err != nil {
			continue
		}
		if tcp.DstPort != p.srcPort {
			continue
		}
		port := int(tcp.SrcPort)
		if !r.Contains(port) || answered[port] {
			continue
		}
		answered[port] = true

		if tcp.SYN && tcp.ACK {
			open[port] = true
			if err := p.send(tcp.SrcPort, tcp.Ack, false); err != nil {
				log.Printf("Scanner: failed to reset %s:%d: %v", p.dst, port, err)
			}
		}
	}

	return open
}

// outboundAddr finds the local address the kernel would use to reach dst.
// Dialing UDP sends no packets.
func outboundAddr(dst net.IP) (net.IP, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: dst, Port: 9})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}
