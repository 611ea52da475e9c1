// Package registry publishes and discovers server instances.
//
// A server registers the address clients should dial (e.g.
// ws://10.0.0.5:3000/rpc); a client discovers the instances of a service and
// lets a loadbalance.Balancer pick the one to open.
package registry

import "context"

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
