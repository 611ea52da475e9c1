package message

// Built-in operations.
const (
	OpSum  Op = "Sum"
	OpEcho Op = "Echo"
)

// SumRequest asks the server to add Operands.
type SumRequest struct {
	Operands []uint64 `msgpack:"operands" json:"operands"`
}

// SumResponse carries the total.
type SumResponse struct {
	Sum uint64 `msgpack:"sum" json:"sum"`
}

type EchoRequest struct {
	Text string `msgpack:"text" json:"text"`
}

type EchoResponse struct {
	Text string `msgpack:"text" json:"text"`
}
