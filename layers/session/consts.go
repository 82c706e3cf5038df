package session

const (
	promNamespace = "session_layer"

	labelNameProtocol  = "protocol"
	labelNameTransport = "transport"
)
