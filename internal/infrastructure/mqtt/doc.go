// Package mqtt connects projectorctld to an MQTT broker.
//
// The daemon mirrors device presence and session state onto retained
// topics and accepts control actions from other systems. Topic layout:
//
//	projectorctl/system/status                          retained, LWT
//	projectorctl/devices/{id}/info                      retained
//	projectorctl/devices/{id}/state                     retained
//	projectorctl/devices/{id}/anomaly
//	projectorctl/devices/{id}/controls/{control}/set    inbound
//	projectorctl/devices/{id}/controls/{control}/result
//
// Device IDs are escaped into one topic level with EscapeLevel.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllControlSets(), 1, handler)
//
// The client reconnects on its own with exponential backoff and restores
// tracked subscriptions after each reconnect. Publishing while the
// connection is down fails fast with ErrNotConnected.
package mqtt
