package liveserver

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeAccount   = "account"
	TypePositions = "positions"
	TypeOrders    = "orders"
	TypeEquity    = "equity"
	TypeBenchmark = "benchmark"
	TypeStatus    = "status"
)

// NewMessage creates a Message
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}
