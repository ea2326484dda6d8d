package domain

import "time"

// TrafficSample is one passive observation of interface counters
type TrafficSample struct {
	ID        string        `json:"id"`
	Interface string        `json:"interface"`
	RxBytes   uint64        `json:"rx_bytes"`
	TxBytes   uint64        `json:"tx_bytes"`
	RxDelta   uint64        `json:"rx_delta"`
	TxDelta   uint64        `json:"tx_delta"`
	Interval  time.Duration `json:"interval_ns"`
	At        time.Time     `json:"at"`
}
