package transport

import "net"

// TCPConnector dials plain TCP endpoints.
type TCPConnector struct{}

// NewTCPConnector returns a Connector for TCP key-value endpoints.
func NewTCPConnector() Connector {
	return TCPConnector{}
}

func (TCPConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("tcp", endpoint)
}

func (TCPConnector) Name() string { return "tcp" }
