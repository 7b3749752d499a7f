package node

import (
	"fmt"
	"reflect"

	"mini-maelstrom/message"
)

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	envelopeType = reflect.TypeOf((*message.Envelope)(nil))
	payloadType  = reflect.TypeOf((*message.Payload)(nil)).Elem()
)

// NewService builds a Mux from the exported methods of rcvr. Every method shaped
//
//	func (n *T) Anything(env *message.Envelope, p SomePayload) error
//
// where SomePayload is a struct implementing message.Payload handles the messages of type
// SomePayload{}.Type(). Other methods are ignored. Two methods claiming the same type are
// an error.
func NewService(rcvr any) (*Mux, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("node: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("node: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)

	mux := NewMux()
	owners := make(map[string]string)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		argType, ok := handlerArg(method.Type)
		if !ok {
			continue
		}
		name := reflect.Zero(argType).Interface().(message.Payload).Type()
		if prev, ok := owners[name]; ok {
			return nil, fmt.Errorf("node: %s and %s both handle %q", prev, method.Name, name)
		}
		owners[name] = method.Name
		mux.Handle(name, bind(val, method, argType))
	}
	return mux, nil
}

// handlerArg reports the payload type of a method (receiver, *Envelope, P) error.
func handlerArg(m reflect.Type) (reflect.Type, bool) {
	if m.NumIn() != 3 || m.NumOut() != 1 || m.Out(0) != errorType {
		return nil, false
	}
	if m.In(1) != envelopeType {
		return nil, false
	}
	arg := m.In(2)
	if arg.Kind() != reflect.Struct || !arg.Implements(payloadType) {
		return nil, false
	}
	return arg, true
}

func bind(rcvr reflect.Value, method reflect.Method, argType reflect.Type) HandlerFunc {
	return func(env *message.Envelope) error {
		payload := reflect.ValueOf(env.Body.Payload)
		if !payload.IsValid() || payload.Type() != argType {
			return message.NewRPCError(message.MalformedRequest, "%s expects %s, got %T", method.Name, argType, env.Body.Payload)
		}
		results := method.Func.Call([]reflect.Value{rcvr, reflect.ValueOf(env), payload})
		if !results[0].IsNil() {
			return results[0].Interface().(error)
		}
		return nil
	}
}
