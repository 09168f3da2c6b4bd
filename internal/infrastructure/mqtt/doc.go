// Package mqtt is the fleet transport: a thin wrapper over
// paho.mqtt.golang.
//
// Devices publish under "{root}/{deviceID}/{kind}/..." and the core
// subscribes once to "{root}/+/#". Commands are published back on
// "{root}/{deviceID}/cmd/{action}". The wrapper adds:
//   - subscription tracking and restoration after reconnect
//   - panic recovery around every handler
//   - retained online/offline presence on a status topic outside the
//     fleet root, backed by a last-will for unclean exits
//
// Reconnect policy belongs to paho; this package only configures it.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	codec := topic.Codec{Root: "fleet"}
//	err = client.Subscribe(codec.Subscription(), 1, sess.HandleMessage)
package mqtt
