// Package portscan probes a port range on one address and reports the open
// ports.
//
// Three interchangeable strategies implement Scanner:
//
//   - SYNScanner sends a half-open TCP SYN for every port concurrently over
//     a raw socket and answers every SYN-ACK with a RST. Needs CAP_NET_RAW.
//   - ConnectScanner completes a TCP handshake per port through a bounded
//     worker pool. Works unprivileged.
//   - NmapScanner delegates to the nmap binary (-sS or -sT).
//
// FallbackScanner runs a primary strategy and switches to a fallback when
// the primary reports ErrPermissionDenied. New builds the configured
// combination.
//
// Every strategy validates the range before sending anything and bounds the
// whole scan by one shared timeout.
package portscan
