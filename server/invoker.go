package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
)

// Invoker turns a decoded request into a response. The server dispatches
// every REQUEST through exactly one Invoker.
type Invoker interface {
	Handle(ctx context.Context, req *message.Request) *message.Response
}

// MethodFunc is the non-reflective dispatch seam: an explicit adapter for
// one method, fed the raw JSON parameters in order.
type MethodFunc func(ctx context.Context, params []json.RawMessage) (any, error)

// RequestHandler maps service keys to invocable implementations. It is the
// provider's handler table; entries come either from reflection-scanned
// receivers or from explicitly registered MethodFuncs.
type RequestHandler struct {
	mu       sync.RWMutex
	services map[string]*service
}

// NewRequestHandler returns an empty handler table.
func NewRequestHandler() *RequestHandler {
	return &RequestHandler{services: make(map[string]*service)}
}

// RegisterService scans rcvr's exported methods and installs them under the
// service key.
func (h *RequestHandler) RegisterService(serviceKey string, rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.services[serviceKey] = svc
	h.mu.Unlock()
	log.Info("service handler registered", "key", serviceKey, "methods", len(svc.methods))
	return nil
}

// RegisterMethodFunc installs one explicit method adapter under the service
// key, creating the service slot when needed.
func (h *RequestHandler) RegisterMethodFunc(serviceKey, methodName string, fn MethodFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	svc, ok := h.services[serviceKey]
	if !ok {
		svc = &service{methods: map[string]*methodType{}, funcs: map[string]MethodFunc{}}
		h.services[serviceKey] = svc
	}
	svc.funcs[methodName] = fn
}

// Handle resolves the service key and method and invokes it. Every failure
// becomes a FAIL response; nothing here may take the connection down.
func (h *RequestHandler) Handle(ctx context.Context, req *message.Request) *message.Response {
	h.mu.RLock()
	svc := h.services[req.ServiceKey()]
	h.mu.RUnlock()
	if svc == nil {
		return message.Fail("service not found: " + req.ServiceKey())
	}
	return svc.call(ctx, req)
}

type methodType struct {
	method  reflect.Method
	inTypes []reflect.Type // inputs after the receiver (and optional context)
	hasCtx  bool
}

type service struct {
	rcvr    reflect.Value
	methods map[string]*methodType
	funcs   map[string]MethodFunc
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newService scans the receiver's exported methods. A method may take an
// optional leading context.Context; remaining inputs must be decodable from
// JSON. Outputs are one of: (), (error), (T), (T, error).
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: receiver must be a pointer to a struct, got %v", typ)
	}
	svc := &service{
		rcvr:    reflect.ValueOf(rcvr),
		methods: map[string]*methodType{},
		funcs:   map[string]MethodFunc{},
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if mt.NumOut() > 2 {
			continue
		}
		if mt.NumOut() == 2 && mt.Out(1) != errorType {
			continue
		}
		entry := &methodType{method: m}
		start := 1 // skip receiver
		if mt.NumIn() > 1 && mt.In(1) == contextType {
			entry.hasCtx = true
			start = 2
		}
		for j := start; j < mt.NumIn(); j++ {
			entry.inTypes = append(entry.inTypes, mt.In(j))
		}
		svc.methods[m.Name] = entry
	}
	return svc, nil
}

// call dispatches a request to an explicit adapter when one exists,
// otherwise to the reflected method.
func (s *service) call(ctx context.Context, req *message.Request) *message.Response {
	if fn, ok := s.funcs[req.MethodName]; ok {
		data, err := fn(ctx, req.Parameters)
		if err != nil {
			return message.Fail(err.Error())
		}
		return mustSuccess(data)
	}

	mt, ok := s.methods[req.MethodName]
	if !ok {
		return message.Fail("method not found: " + req.MethodName)
	}
	if len(req.Parameters) != len(mt.inTypes) {
		return message.Fail(fmt.Sprintf("method %s expects %d parameters, got %d",
			req.MethodName, len(mt.inTypes), len(req.Parameters)))
	}
	if len(req.ParameterTypes) != 0 && len(req.ParameterTypes) != len(req.Parameters) {
		log.Warn("parameter type list length mismatch",
			"method", req.MethodName, "types", len(req.ParameterTypes), "values", len(req.Parameters))
	}

	args := make([]reflect.Value, 0, len(mt.inTypes)+2)
	args = append(args, s.rcvr)
	if mt.hasCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, raw := range req.Parameters {
		argv := reflect.New(mt.inTypes[i])
		if err := json.Unmarshal(raw, argv.Interface()); err != nil {
			return message.Fail(fmt.Sprintf("decode parameter %d: %v", i, err))
		}
		args = append(args, argv.Elem())
	}

	results := mt.method.Func.Call(args)
	return resultsToResponse(results, mt.method.Type)
}

// resultsToResponse maps the reflected call outputs onto the wire response.
func resultsToResponse(results []reflect.Value, mt reflect.Type) *message.Response {
	switch len(results) {
	case 0:
		return mustSuccess(nil)
	case 1:
		if mt.Out(0) == errorType {
			if !results[0].IsNil() {
				return message.Fail(results[0].Interface().(error).Error())
			}
			return mustSuccess(nil)
		}
		return mustSuccess(results[0].Interface())
	default:
		if !results[1].IsNil() {
			return message.Fail(results[1].Interface().(error).Error())
		}
		return mustSuccess(results[0].Interface())
	}
}

func mustSuccess(data any) *message.Response {
	resp, err := message.Success(data)
	if err != nil {
		return message.Fail("encode result: " + err.Error())
	}
	return resp
}
