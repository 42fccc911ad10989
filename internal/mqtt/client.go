package mqtt

// Client is what discovery publishers need from the MQTT connection.
type Client interface {
	Prefix() string
	Topics() *Topics
	Publish(topic string, payload interface{}, retain bool)
}
