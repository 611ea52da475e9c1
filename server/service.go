package server

import (
	"context"
	"reflect"

	"github.com/juju/errors"

	"ws-rpc/codec"
	"ws-rpc/message"
	"ws-rpc/middleware"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// service is a receiver whose exported methods are operations.
type service struct {
	name   string
	rcvr   reflect.Value
	method map[message.Op]*methodType
}

// newService scans rcvr for methods of the form
//
//	func (r *T) Op(ctx context.Context, args *Args, reply *Reply) error
//
// and names each operation after its method. Other methods are ignored.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.NotValidf("receiver %T (must be a pointer)", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.NotValidf("receiver %T (must point to a struct)", rcvr)
	}
	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		method: make(map[message.Op]*methodType),
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType ||
			mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		svc.method[message.Op(m.Name)] = &methodType{
			method:    m,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
	}
	if len(svc.method) == 0 {
		return nil, errors.NotFoundf("operations on %s", svc.name)
	}
	return svc, nil
}

// handler adapts one method to a HandlerFunc that decodes the request body
// with c and encodes the reply with it.
func (s *service) handler(m *methodType, c codec.Codec) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Request) *message.Response {
		argv := reflect.New(m.ArgType)
		if len(req.Body) > 0 {
			if err := c.Decode(req.Body, argv.Interface()); err != nil {
				return middleware.ErrorResponse(req, "decoding arguments: "+err.Error())
			}
		}
		replyv := reflect.New(m.ReplyType)

		results := m.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv})
		if errv := results[0]; !errv.IsNil() {
			return middleware.ErrorResponse(req, errv.Interface().(error).Error())
		}

		body, err := c.Encode(replyv.Interface())
		if err != nil {
			return middleware.ErrorResponse(req, "encoding reply: "+err.Error())
		}
		return &message.Response{Op: req.Op, RequestID: req.RequestID, Body: body}
	}
}
