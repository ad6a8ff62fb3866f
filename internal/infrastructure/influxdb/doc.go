// Package influxdb mirrors bridge events into InfluxDB v2.
//
// The mirror is optional and best-effort. Readings, board events and broker
// connection transitions are written with the timestamps stored in the
// registry, using the library's batching write API. Write errors arrive
// asynchronously through the callback set with SetOnError.
//
// Every point also carries a site tag with the configured site ID.
//
// Measurements:
//
//	sensor_reading     tags: mac, board, sensor_id   field: value (float)
//	board_event        tags: mac, board              field: status (string)
//	broker_connection  tags: endpoint                field: connected (0|1)
package influxdb
