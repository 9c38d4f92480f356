// Package core holds the server-side view of the domain: the wire
// types are defined once in the client package so library consumers can
// name them, and core aliases them and adds the derivation rules.
package core

import "github.com/mistakeknot/warewatch/client"

type (
	StreamType  = client.StreamType
	RobotStatus = client.RobotStatus
	ScanStatus  = client.ScanStatus
	Robot       = client.Robot
	Scan        = client.Scan
	AlertEvent  = client.AlertEvent
	Stats       = client.Stats
	RobotData   = client.RobotData
	Location    = client.Location
	ScanResult  = client.ScanResult
)

const (
	StreamInitialData    = client.StreamInitialData
	StreamRobotUpdate    = client.StreamRobotUpdate
	StreamNewScan        = client.StreamNewScan
	StreamInventoryAlert = client.StreamInventoryAlert
	StreamPing           = client.StreamPing
	StreamPong           = client.StreamPong

	RobotActive     = client.RobotActive
	RobotLowBattery = client.RobotLowBattery
	RobotOffline    = client.RobotOffline

	ScanOK       = client.ScanOK
	ScanLowStock = client.ScanLowStock
	ScanCritical = client.ScanCritical
)
