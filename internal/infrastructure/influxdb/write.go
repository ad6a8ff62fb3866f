package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementReading    = "sensor_reading"
	MeasurementBoardEvent = "board_event"
	MeasurementConnection = "broker_connection"
)

// WriteReading mirrors one stored sensor reading.
//
//	client.WriteReading("00:12:4B:00:0A:27", "greenhouse-1", "SMS", 45.67, ts)
func (c *Client) WriteReading(mac, nickname, sensorID string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(mac, nickname, sensorID, value, ts))
}

// WriteBoardEvent mirrors one stored board status code.
func (c *Client) WriteBoardEvent(mac, nickname, status string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(boardEventPoint(mac, nickname, status, ts))
}

// WriteConnectionStatus mirrors a broker connection transition as 1
// (connected) or 0 (disconnected), so outages graph as gaps.
func (c *Client) WriteConnectionStatus(endpoint string, connected bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(endpoint, connected, ts))
}

func readingPoint(mac, nickname, sensorID string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReading,
		map[string]string{
			"mac":       mac,
			"board":     nickname,
			"sensor_id": sensorID,
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}

func boardEventPoint(mac, nickname, status string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBoardEvent,
		map[string]string{
			"mac":   mac,
			"board": nickname,
		},
		map[string]interface{}{
			"status": status,
		},
		ts,
	)
}

func connectionPoint(endpoint string, connected bool, ts time.Time) *write.Point {
	up := 0
	if connected {
		up = 1
	}
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{"endpoint": endpoint},
		map[string]interface{}{
			"connected": up,
		},
		ts,
	)
}
