package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"ws-rpc/message"
	"ws-rpc/metrics"
)

// Call sends op with args and waits for the matching response, which is
// decoded into reply. reply may be nil to discard the body.
//
// If ctx ends first the call is withdrawn and ctx's error returned; a
// response arriving later is treated as unmatched. A handler failure on the
// server is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, op message.Op, args, reply any) error {
	tr, corr, err := c.session()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := c.codec.Encode(args)
	if err != nil {
		return errors.Annotatef(err, "encoding %s arguments", op)
	}
	id := uuid.NewString()
	frame, err := c.codec.Encode(&message.Request{
		Op:        op,
		RequestID: id,
		Body:      body,
	})
	if err != nil {
		return errors.Annotatef(err, "encoding %s request", op)
	}

	done := make(completion, 1)
	if err := corr.register(id, done); err != nil {
		c.record(op, metrics.ResultClosed)
		return errors.Trace(err)
	}
	c.logger.Debug("sending request", zap.String("op", string(op)), zap.String("request_id", id))
	if err := tr.WriteFrame(frame); err != nil {
		corr.deregister(id)
		c.record(op, metrics.ResultSendError)
		return errors.Annotatef(err, "sending %s request", op)
	}

	select {
	case <-ctx.Done():
		corr.deregister(id)
		c.record(op, metrics.ResultCanceled)
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			c.record(op, metrics.ResultClosed)
			return r.err
		}
		return c.finish(op, r.resp, reply)
	}
}

func (c *Client) finish(op message.Op, resp *message.Response, reply any) error {
	if resp.Error != "" {
		c.record(op, metrics.ResultRemoteError)
		return &RemoteError{Op: op, Message: resp.Error}
	}
	if reply != nil {
		if err := c.codec.Decode(resp.Body, reply); err != nil {
			c.record(op, metrics.ResultDecodeError)
			return errors.Annotatef(err, "decoding %s response", op)
		}
	}
	c.record(op, metrics.ResultOK)
	return nil
}

func (c *Client) record(op message.Op, result string) {
	c.metrics.Calls.WithLabelValues(string(op), result).Inc()
}
