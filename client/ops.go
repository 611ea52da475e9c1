package client

import (
	"context"

	"github.com/juju/errors"

	"ws-rpc/message"
)

// Sum asks the server to add operands.
func (c *Client) Sum(ctx context.Context, operands []uint64) (uint64, error) {
	var resp message.SumResponse
	if err := c.Call(ctx, message.OpSum, &message.SumRequest{Operands: operands}, &resp); err != nil {
		return 0, errors.Trace(err)
	}
	return resp.Sum, nil
}

// Echo returns text as seen by the server.
func (c *Client) Echo(ctx context.Context, text string) (string, error) {
	var resp message.EchoResponse
	if err := c.Call(ctx, message.OpEcho, &message.EchoRequest{Text: text}, &resp); err != nil {
		return "", errors.Trace(err)
	}
	return resp.Text, nil
}
