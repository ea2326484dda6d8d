package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// errHostKeyCaptured aborts the handshake once the key has been seen
var errHostKeyCaptured = errors.New("host key captured")

// SSHHostKey fetches the SHA256 fingerprint of an SSH server's host key
// without authenticating.
type SSHHostKey struct {
	Timeout time.Duration
}

// NewSSHHostKey creates a host key probe
func NewSSHHostKey(timeout time.Duration) *SSHHostKey {
	return &SSHHostKey{Timeout: timeout}
}

// Fingerprint connects to addr:port and returns the host key fingerprint
func (p *SSHHostKey) Fingerprint(ctx context.Context, addr string, port int) (string, error) {
	target := net.JoinHostPort(addr, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return "", wrapContext(ctx, "ssh dial", err)
	}
	defer conn.Close()
	if p.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(p.Timeout))
	}

	var fingerprint string
	config := &ssh.ClientConfig{
		User: "probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			return errHostKeyCaptured
		},
		Timeout: p.Timeout,
	}

	_, _, _, err = ssh.NewClientConn(conn, target, config)
	if fingerprint != "" {
		return fingerprint, nil
	}
	if err == nil {
		return "", fmt.Errorf("%w: ssh handshake returned no host key", ErrUnavailable)
	}
	return "", wrapContext(ctx, "ssh handshake", err)
}
