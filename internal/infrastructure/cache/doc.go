// Package cache keeps the latest reading of every sensor in Redis.
//
// The bridge writes an entry after each reading is stored in the registry,
// and the operator API reads entries back to show live values without
// querying the event table. Keys have the form
//
//	reading:last:{MAC}:{sensor_id}
//
// and hold a JSON object {"value": 45.67, "timestamp": "..."} that expires
// after the configured TTL (24h by default).
package cache
