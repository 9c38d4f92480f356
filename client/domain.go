// Package client provides the Go client for a warewatch dashboard server:
// an HTTP snapshot client and a reconnecting websocket stream client.
// This file contains the domain entity types shared by both.
package client

import "time"

// StreamType tags messages on the dashboard websocket stream.
type StreamType string

const (
	StreamInitialData    StreamType = "initial_data"
	StreamRobotUpdate    StreamType = "robot_update"
	StreamNewScan        StreamType = "new_scan"
	StreamInventoryAlert StreamType = "inventory_alert"
	StreamPing           StreamType = "ping"
	StreamPong           StreamType = "pong"
)

// RobotStatus is the derived operational status of a robot.
type RobotStatus string

const (
	RobotActive     RobotStatus = "active"
	RobotLowBattery RobotStatus = "low_battery"
	RobotOffline    RobotStatus = "offline"
)

// ScanStatus is the stock level reported by a single shelf scan.
type ScanStatus string

const (
	ScanOK       ScanStatus = "OK"
	ScanLowStock ScanStatus = "LOW_STOCK"
	ScanCritical ScanStatus = "CRITICAL"
)

// Robot is a mobile unit tracked by id. Position is a warehouse cell
// (zone letter A-Z, row 1-50) plus a shelf index within the row.
type Robot struct {
	ID         string      `json:"id"`
	Battery    float64     `json:"battery"`
	Zone       string      `json:"zone"`
	Row        int         `json:"row"`
	Shelf      int         `json:"shelf,omitempty"`
	Status     RobotStatus `json:"status"`
	LastUpdate time.Time   `json:"last_update"`
}

// Scan is one immutable inventory observation produced by a robot.
type Scan struct {
	Time      time.Time  `json:"time"`
	RobotID   string     `json:"robot_id"`
	Zone      string     `json:"zone"`
	Row       int        `json:"row"`
	Product   string     `json:"product"`
	ProductID string     `json:"product_id,omitempty"`
	Quantity  int        `json:"quantity"`
	Status    ScanStatus `json:"status"`
}

// AlertEvent is the payload of an inventory_alert stream message.
type AlertEvent struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Zone        string    `json:"zone"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats are the dashboard aggregates derived from the canonical model.
type Stats struct {
	ActiveRobots  int `json:"active_robots"`
	TotalRobots   int `json:"total_robots"`
	CheckedToday  int `json:"checked_today"`
	CriticalStock int `json:"critical_stock"`
	AvgBattery    int `json:"avg_battery"`
}

// RobotData is the ingest payload a robot posts after a scan pass.
type RobotData struct {
	RobotID      string       `json:"robot_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Location     Location     `json:"location"`
	ScanResults  []ScanResult `json:"scan_results"`
	BatteryLevel float64      `json:"battery_level"`
}

type Location struct {
	Zone  string `json:"zone"`
	Row   int    `json:"row"`
	Shelf int    `json:"shelf"`
}

type ScanResult struct {
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity"`
	Status      ScanStatus `json:"status"`
}
