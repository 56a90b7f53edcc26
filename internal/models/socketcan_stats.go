package models

import "time"

// SocketCANStats is the health of one SocketCAN interface as reported by
// `ip -details -statistics link show`
type SocketCANStats struct {
	Interface string    `json:"interface"`
	Bus       int       `json:"bus"`
	Timestamp time.Time `json:"timestamp"`

	State       string `json:"state"` // UP, DOWN
	Bitrate     int    `json:"bitrate"`
	SamplePoint string `json:"sample_point"` // e.g. "87.5%"
	BusState    string `json:"bus_state"`    // ERROR-ACTIVE, ERROR-PASSIVE, BUS-OFF

	RXErrorCounter int `json:"rx_error_counter"`
	TXErrorCounter int `json:"tx_error_counter"`

	RXPackets uint64 `json:"rx_packets"`
	RXErrors  uint64 `json:"rx_errors"`
	RXDropped uint64 `json:"rx_dropped"`
	TXPackets uint64 `json:"tx_packets"`
	TXErrors  uint64 `json:"tx_errors"`
	TXDropped uint64 `json:"tx_dropped"`

	BusOffRestarts uint64 `json:"bus_off_restarts"`
	ErrorWarning   uint64 `json:"error_warning"`
	ErrorPassive   uint64 `json:"error_passive"`
	BusOff         uint64 `json:"bus_off"`
}

// BusHealthy reports whether the controller is able to transmit
func (s SocketCANStats) BusHealthy() bool {
	return s.State == "UP" && s.BusState != "BUS-OFF"
}
