package server

import (
	"context"
	"math/bits"

	"github.com/juju/errors"

	"ws-rpc/message"
)

// Calc provides the built-in Sum and Echo operations.
type Calc struct{}

// Sum adds the operands. It fails rather than wrap around.
func (*Calc) Sum(_ context.Context, args *message.SumRequest, reply *message.SumResponse) error {
	var sum, carry uint64
	for _, v := range args.Operands {
		sum, carry = bits.Add64(sum, v, 0)
		if carry != 0 {
			return errors.New("sum overflows uint64")
		}
	}
	reply.Sum = sum
	return nil
}

func (*Calc) Echo(_ context.Context, args *message.EchoRequest, reply *message.EchoResponse) error {
	reply.Text = args.Text
	return nil
}
