package torchfile

import "model-uploader/internal/core/domain"

// stubClass takes the place of any class a checkpoint names. Calling or
// instantiating it yields a stubObject, so reduce, newobj and build opcodes
// succeed without running any constructor.
type stubClass struct {
	ref domain.ClassRef
}

func (c *stubClass) Call(args ...interface{}) (interface{}, error) {
	return &stubObject{class: c, args: args}, nil
}

func (c *stubClass) PyNew(args ...interface{}) (interface{}, error) {
	return &stubObject{class: c, args: args}, nil
}

type stubObject struct {
	class *stubClass
	args  []interface{}
	state interface{}
	attrs map[string]interface{}
}

func (o *stubObject) PySetState(state interface{}) error {
	o.state = state
	return nil
}

func (o *stubObject) PyDictSet(key, value interface{}) error {
	if name, ok := key.(string); ok {
		return o.PySetAttr(name, value)
	}
	return nil
}

func (o *stubObject) PySetAttr(key string, value interface{}) error {
	if o.attrs == nil {
		o.attrs = make(map[string]interface{})
	}
	o.attrs[key] = value
	return nil
}
