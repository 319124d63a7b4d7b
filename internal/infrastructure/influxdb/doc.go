// Package influxdb records projector telemetry in InfluxDB.
//
// The Client is a session.Observer. Every state transition, resolved
// command and protocol anomaly becomes a point:
//
//	projector_session  tags: device_id, state    fields: ready, faulted, error
//	projector_command  tags: device_id, status   fields: latency_ms, opcode
//	projector_anomaly  tags: device_id           fields: count, frame_len
//
// Writes go through the library's non-blocking write API and are batched
// by batch_size and flush_interval from config.yaml, so observer calls
// never wait on the network. Write failures are reported asynchronously
// through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	observers = append(observers, client)
package influxdb
