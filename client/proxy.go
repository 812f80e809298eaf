package client

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/localservice"
	"lite-rpc/message"
	"lite-rpc/transport"
)

// ReferenceConfig is the per-surface configuration the source framework
// scanned from annotations; here it arrives explicitly at construction.
type ReferenceConfig struct {
	Version            string
	Group              string
	Timeout            time.Duration
	Retries            int
	Async              bool
	EnableLocalService bool
	Condition          string
}

// DefaultReferenceConfig returns the standard per-surface defaults.
func DefaultReferenceConfig() ReferenceConfig {
	return ReferenceConfig{
		Version: "1.0.0",
		Group:   "",
		Timeout: 20 * time.Second,
		Retries: 2,
	}
}

// transportRetryBackoff separates transport-error retry attempts.
const transportRetryBackoff = 1 * time.Second

// Proxy is the typed remote-method surface for one service. A call never
// raises for routine network or service conditions: it resolves the
// condition, looks up a provider, sends, awaits, and degrades to the local
// or fallback path and finally to a friendly value.
type Proxy struct {
	client      *RpcClient
	serviceName string
	cfg         ReferenceConfig
	locals      *localservice.Factory
	evaluator   *localservice.Evaluator
}

// NewProxy builds the surface. locals and evaluator may be nil; a proxy
// without them simply has no local path.
func NewProxy(c *RpcClient, serviceName string, cfg ReferenceConfig, locals *localservice.Factory, evaluator *localservice.Evaluator) *Proxy {
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if locals == nil {
		locals = localservice.NewFactory()
	}
	if evaluator == nil {
		evaluator = localservice.NewEvaluator()
	}
	return &Proxy{
		client:      c,
		serviceName: serviceName,
		cfg:         cfg,
		locals:      locals,
		evaluator:   evaluator,
	}
}

func (p *Proxy) serviceKey() string {
	return message.ServiceKey(p.serviceName, p.cfg.Version, p.cfg.Group)
}

// Invoke is the generic typed call surface.
func Invoke[T any](p *Proxy, methodName string, params ...any) T {
	var zero T
	v := p.Call(methodName, reflect.TypeOf(zero), params...)
	if v == nil {
		return zero
	}
	if typed, ok := v.(T); ok {
		return typed
	}
	// The remote result decoded into something else; degrade politely.
	return Friendly[T](errors.New("result type mismatch"))
}

// Call performs one invocation and always returns a value assignable to
// returnType (friendly-value policy on failure). A nil returnType means the
// caller ignores the result.
func (p *Proxy) Call(methodName string, returnType reflect.Type, params ...any) any {
	req, err := p.buildRequest(methodName, params)
	if err != nil {
		return FriendlyValue(returnType, err)
	}

	// Condition gate: a false condition routes to the local path when an
	// implementation exists; a missing implementation falls back to remote.
	if p.evaluator.ShouldUseLocal(p.cfg.EnableLocalService, p.cfg.Condition) {
		if impl := p.locals.Get(p.serviceKey()); impl != nil {
			log.Debug("local path selected", "service", p.serviceName, "method", methodName)
			result, err := localservice.Invoke(impl, methodName, req.Parameters)
			if err != nil {
				return FriendlyValue(returnType, err)
			}
			return convertResult(result, returnType)
		}
		log.Warn("condition selected local path but no local impl, using remote",
			"service", p.serviceName, "method", methodName)
	}

	awaiter, lastErr := p.sendWithRetry(req)
	if awaiter != nil {
		resp, err := Await(awaiter, p.cfg.Timeout)
		if err == nil {
			return decodeResult(resp, returnType)
		}
		lastErr = err
	}

	// Last resort when enabled: local impl, else fallback impl, else the
	// synthetic zero-value service.
	if p.cfg.EnableLocalService {
		impl := p.locals.GetWithFallback(p.serviceKey(), p.serviceName)
		if _, isZero := impl.(localservice.ZeroService); isZero {
			log.Warn("no fallback available, returning zero value",
				"service", p.serviceName, "method", methodName, "err", lastErr)
			return zeroValue(returnType)
		}
		result, err := localservice.Invoke(impl, methodName, req.Parameters)
		if err != nil {
			return FriendlyValue(returnType, err)
		}
		log.Info("fallback service answered", "service", p.serviceName, "method", methodName)
		return convertResult(result, returnType)
	}
	return FriendlyValue(returnType, lastErr)
}

// CallAsync sends without awaiting and returns the awaiter. Errors surface
// as an already-failed awaiter.
func (p *Proxy) CallAsync(methodName string, params ...any) *transport.Awaiter {
	req, err := p.buildRequest(methodName, params)
	if err != nil {
		return transport.NewFailedAwaiter(err)
	}
	awaiter, lastErr := p.sendWithRetry(req)
	if awaiter == nil {
		return transport.NewFailedAwaiter(lastErr)
	}
	return awaiter
}

// sendWithRetry drives the C6 send loop: retries+1 attempts, transport
// errors backed off by one second, service-not-found terminal immediately.
func (p *Proxy) sendWithRetry(req *message.Request) (*transport.Awaiter, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(transportRetryBackoff)
		}
		awaiter, err := p.client.SendRequest(req)
		if err == nil {
			return awaiter, nil
		}
		lastErr = err
		if IsServiceNotFound(err) {
			return nil, err
		}
		log.Warn("send attempt failed", "service", req.ServiceKey(),
			"method", req.MethodName, "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (p *Proxy) buildRequest(methodName string, params []any) (*message.Request, error) {
	req := &message.Request{
		ServiceName:    p.serviceName,
		MethodName:     methodName,
		Version:        p.cfg.Version,
		Group:          p.cfg.Group,
		ParameterTypes: parameterTypeNames(params),
	}
	if err := req.SetParameters(params...); err != nil {
		return nil, err
	}
	return req, nil
}

// parameterTypeNames records canonical Go type names for the wire. The
// provider dispatches by method name and arity; the names are diagnostic.
func parameterTypeNames(params []any) []string {
	names := make([]string, len(params))
	for i, p := range params {
		if p == nil {
			names[i] = "nil"
			continue
		}
		names[i] = reflect.TypeOf(p).String()
	}
	return names
}

// decodeResult unmarshals the response payload into the return type.
func decodeResult(resp *message.Response, returnType reflect.Type) any {
	if returnType == nil || len(resp.Data) == 0 {
		return zeroValue(returnType)
	}
	out := reflect.New(returnType)
	if err := json.Unmarshal(resp.Data, out.Interface()); err != nil {
		log.Warn("result decode failed", "err", err)
		return FriendlyValue(returnType, err)
	}
	return out.Elem().Interface()
}

// convertResult adapts a locally produced value to the declared return
// type, round-tripping through JSON when the types differ.
func convertResult(result any, returnType reflect.Type) any {
	if returnType == nil {
		return nil
	}
	if result == nil {
		return zeroValue(returnType)
	}
	if reflect.TypeOf(result) == returnType {
		return result
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return FriendlyValue(returnType, err)
	}
	out := reflect.New(returnType)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return FriendlyValue(returnType, err)
	}
	return out.Elem().Interface()
}

// zeroValue is the synthetic-default policy: plain zero values with empty
// containers, no error text.
func zeroValue(t reflect.Type) any {
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface()
	case reflect.Map:
		return reflect.MakeMap(t).Interface()
	default:
		return reflect.Zero(t).Interface()
	}
}
