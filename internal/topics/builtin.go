package topics

// Built-in broker topics. Broker requests are answered on the same type with
// a response field of request + "_response".
var (
	BrokerDiscovery = brokerRequest("broker.discovery", "get_discovery",
		"Request the discovery tree of every item known to the broker")

	BrokerProtocols = brokerRequest("broker.protocols", "get_protocols",
		"List the protocols the broker can open")

	BrokerOpenProtocols = brokerRequest("broker.open_protocols", "get_open_protocols",
		"List the protocols currently open on the broker")

	BrokerOpenProtocol = brokerRequest("broker.open_protocol", "open_protocol",
		"Open a protocol; contents carry protocol_name and params")

	BrokerCloseProtocol = brokerRequest("broker.close_protocol", "close_protocol",
		"Close an open protocol; contents carry protocol")

	BrokerVerifyComms = brokerRequest("broker.verify_comms", "verify_broker_comms",
		"Round-trip check that the broker answers on this connection")

	Subscribe = MustDefine(TopicConfig{
		Name:        "broker.subscribe",
		Description: "Subscribe this connection to messages matching contents.TOPICS",
		Topics:      map[string]any{"type": "subscribe"},
		Response:    map[string]any{"type": "subscribe_response"},
	})

	Unsubscribe = MustDefine(TopicConfig{
		Name:        "broker.unsubscribe",
		Description: "Remove a subscription previously made with broker.subscribe",
		Topics:      map[string]any{"type": "unsubscribe"},
		Response:    map[string]any{"type": "unsubscribe_response"},
	})
)

func brokerRequest(name, request, description string) *Definition {
	return MustDefine(TopicConfig{
		Name:        name,
		Description: description,
		Topics:      map[string]any{"type": "broker", "request": request},
		Response:    map[string]any{"type": "broker", "response": request + "_response"},
	})
}

// Builtins returns every built-in definition.
func Builtins() []*Definition {
	return []*Definition{
		BrokerDiscovery,
		BrokerProtocols,
		BrokerOpenProtocols,
		BrokerOpenProtocol,
		BrokerCloseProtocol,
		BrokerVerifyComms,
		Subscribe,
		Unsubscribe,
	}
}
