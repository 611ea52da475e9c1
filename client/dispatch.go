package client

import (
	"go.uber.org/zap"

	"ws-rpc/message"
)

// dispatch routes one inbound frame to the call waiting for it. Frames that
// cannot be decoded and responses nobody is waiting for are logged and
// dropped; neither affects other pending calls.
func (c *Client) dispatch(corr *correlator, frame []byte) {
	var resp message.Response
	if err := c.codec.Decode(frame, &resp); err != nil {
		c.metrics.DecodeErrors.Inc()
		c.logger.Warn("dropping undecodable frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	if err := resp.Validate(); err != nil {
		c.metrics.DecodeErrors.Inc()
		c.logger.Warn("dropping invalid response", zap.Error(err))
		return
	}

	c.logger.Debug("response received",
		zap.String("op", string(resp.Op)),
		zap.String("request_id", resp.RequestID))

	found, err := corr.resolve(resp.RequestID, &resp)
	if err != nil {
		// Closing: the pending calls have already failed.
		c.logger.Debug("dropping response after close",
			zap.String("op", string(resp.Op)),
			zap.String("request_id", resp.RequestID))
		return
	}
	if !found {
		c.metrics.Unmatched.Inc()
		c.logger.Warn("response for unknown or already-resolved id",
			zap.String("op", string(resp.Op)),
			zap.String("request_id", resp.RequestID))
	}
}
