// Package mqtt provides the MQTT client used to reach physical datapoints.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect with subscriptions restored after each reconnect
//   - a retained status on graylogic/system/status (online, graceful
//     offline, and an LWT for unexpected disconnects)
//   - panic recovery around message handlers
//
// Topic layout:
//
//	graylogic/command/{target}        datapoint writes (QoS 1, not retained)
//	graylogic/state/{target}          datapoint values reported by bridges
//	graylogic/core/vdev/{id}/{event}  virtual device run events
//	graylogic/system/status           service status (retained)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllStates(), 1, handler)
package mqtt
