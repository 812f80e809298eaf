// Package localservice holds the consumer's local and fallback
// implementations and decides, per call, whether the remote path applies.
//
// A local implementation is any value whose exported methods mirror the
// remote service's methods; the façade invokes it by reflection with the
// same arguments it would have sent over the wire.
package localservice

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
)

// ZeroService is the synthetic default returned when neither a local nor a
// fallback implementation exists. It has no methods, so Invoke on it fails
// with a method-not-found error; the façade recognizes it instead and
// returns the type-appropriate zero value.
type ZeroService struct{}

// Factory registers local implementations by service key and fallback
// implementations by service name.
type Factory struct {
	mu        sync.RWMutex
	locals    map[string]any // serviceKey → impl
	fallbacks map[string]any // serviceName → impl
}

// NewFactory returns an empty local-service factory.
func NewFactory() *Factory {
	return &Factory{
		locals:    make(map[string]any),
		fallbacks: make(map[string]any),
	}
}

// RegisterLocal installs a local implementation for the exact
// (name, version, group) key.
func (f *Factory) RegisterLocal(serviceName, version, group string, impl any) {
	key := message.ServiceKey(serviceName, version, group)
	f.mu.Lock()
	f.locals[key] = impl
	f.mu.Unlock()
	log.Info("local service registered", "key", key)
}

// RegisterFallback installs a fallback implementation for every version and
// group of the service.
func (f *Factory) RegisterFallback(serviceName string, impl any) {
	f.mu.Lock()
	f.fallbacks[serviceName] = impl
	f.mu.Unlock()
	log.Info("fallback service registered", "service", serviceName)
}

// Get returns the local implementation for the key, or nil.
func (f *Factory) Get(serviceKey string) any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locals[serviceKey]
}

// GetWithFallback returns the local implementation, else the registered
// fallback for the service name, else the synthetic zero-value default.
func (f *Factory) GetWithFallback(serviceKey, serviceName string) any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if impl, ok := f.locals[serviceKey]; ok {
		return impl
	}
	if impl, ok := f.fallbacks[serviceName]; ok {
		return impl
	}
	return ZeroService{}
}

// Invoke calls the named method on impl by reflection. Raw JSON parameters
// are decoded into the method's input types; outputs of shape (), (error),
// (T) or (T, error) are mapped onto (any, error).
func Invoke(impl any, methodName string, params []json.RawMessage) (any, error) {
	v := reflect.ValueOf(impl)
	m := v.MethodByName(methodName)
	if !m.IsValid() {
		return nil, fmt.Errorf("localservice: method %s not found on %T", methodName, impl)
	}
	mt := m.Type()
	if mt.NumIn() != len(params) {
		return nil, fmt.Errorf("localservice: method %s expects %d parameters, got %d",
			methodName, mt.NumIn(), len(params))
	}

	args := make([]reflect.Value, len(params))
	for i, raw := range params {
		argv := reflect.New(mt.In(i))
		if err := json.Unmarshal(raw, argv.Interface()); err != nil {
			return nil, fmt.Errorf("localservice: decode parameter %d: %w", i, err)
		}
		args[i] = argv.Elem()
	}

	results := m.Call(args)
	return mapResults(results, mt)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func mapResults(results []reflect.Value, mt reflect.Type) (any, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		if mt.Out(0) == errorType {
			if !results[0].IsNil() {
				return nil, results[0].Interface().(error)
			}
			return nil, nil
		}
		return results[0].Interface(), nil
	default:
		if !results[1].IsNil() {
			return nil, results[1].Interface().(error)
		}
		return results[0].Interface(), nil
	}
}
