package client

import "encoding/json"

// Envelope is a tagged message from the dashboard stream. Data stays
// raw until the consumer decodes it by type; unknown types travel
// through untouched so new server events are never fatal.
type Envelope struct {
	Type StreamType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InitialData is the payload of an initial_data envelope: the full
// authoritative state sent at the head of every connection.
type InitialData struct {
	Robots      []Robot `json:"robots"`
	RecentScans []Scan  `json:"recent_scans"`
}

// AsInitialData decodes the envelope data as a full-state baseline.
func (e Envelope) AsInitialData() (InitialData, error) {
	var d InitialData
	return d, json.Unmarshal(e.Data, &d)
}

// AsRobot decodes the envelope data as a robot_update.
func (e Envelope) AsRobot() (Robot, error) {
	var r Robot
	return r, json.Unmarshal(e.Data, &r)
}

// AsScan decodes the envelope data as a new_scan.
func (e Envelope) AsScan() (Scan, error) {
	var s Scan
	return s, json.Unmarshal(e.Data, &s)
}

// AsAlert decodes the envelope data as an inventory_alert.
func (e Envelope) AsAlert() (AlertEvent, error) {
	var a AlertEvent
	return a, json.Unmarshal(e.Data, &a)
}
