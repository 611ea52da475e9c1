package client

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"ws-rpc/loadbalance"
	"ws-rpc/registry"
)

// Resolve discovers the instances of service and picks one address with bal.
func Resolve(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string) (string, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return "", errors.Trace(err)
	}
	instance, err := bal.Pick(instances)
	if err != nil {
		return "", errors.Annotatef(err, "resolving %s", service)
	}
	return instance.Addr, nil
}

// OpenService resolves service through reg and opens the chosen address.
func (c *Client) OpenService(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string) error {
	addr, err := Resolve(ctx, reg, bal, service)
	if err != nil {
		return errors.Trace(err)
	}
	c.logger.Debug("resolved service",
		zap.String("service", service),
		zap.String("address", addr),
		zap.String("balancer", bal.Name()))
	return c.Open(ctx, addr)
}
