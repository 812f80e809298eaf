package client

import (
	"reflect"

	"lite-rpc/transport"
)

var awaiterType = reflect.TypeOf((*transport.Awaiter)(nil))

// FriendlyValue produces the non-throwing stand-in for a return type when a
// call cannot complete normally:
//
//	string            "error: <message>"
//	bool              false
//	numeric           0
//	slice/map         empty container
//	*transport.Awaiter an already-failed awaiter
//	pointer/interface nil
//	anything else     zero value (an array is zero-filled at its fixed length)
func FriendlyValue(t reflect.Type, err error) any {
	if t == nil {
		return nil
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if t == awaiterType {
		return transport.NewFailedAwaiter(err)
	}
	switch t.Kind() {
	case reflect.String:
		return "error: " + msg
	case reflect.Bool:
		return false
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface()
	case reflect.Map:
		return reflect.MakeMap(t).Interface()
	case reflect.Ptr, reflect.Interface, reflect.Chan, reflect.Func:
		return reflect.Zero(t).Interface()
	default:
		return reflect.Zero(t).Interface()
	}
}

// Friendly is the generic form of FriendlyValue.
func Friendly[T any](err error) T {
	var zero T
	v := FriendlyValue(reflect.TypeOf(zero), err)
	if v == nil {
		return zero
	}
	if typed, ok := v.(T); ok {
		return typed
	}
	return zero
}
