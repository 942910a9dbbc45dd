package vm

import "fmt"

// ----------------------------------------------------------------------------
// Host bridge

// This section defines the surface a host function sees.
//
// A VMContext is a thin typed view over the call's arguments, positional
// indices counting from the top of the stack (index 0 is the last argument
// in source order). A host function pushes at most one return value through
// the Add methods and returns how many it pushed, the machine substitutes
// Undefined when a return slot is expected and none was produced.

type VMContext interface {
	NumArgs() int
	GetVariant(i int) (Variant, error)
	GetInt(i int) (Integer, error)
	GetFloat(i int) (Number, error)
	GetString(i int) (string, error)
	GetVector(i int) (Vector, error)
	GetObject(i int) (*Object, error)

	AddUndefined()
	AddBool(b bool)
	AddInt(n Integer)
	AddFloat(n Number)
	AddString(s string)
	AddVector(v Vector)
	AddObject(o *Object)
}

// A host function: receives the typed argument view and the current
// receiver object (nil when the caller had none), returns the number of
// pushed return values (0 or 1).
type StockFunction func(ctx VMContext, self *Object) (int, error)

// hostContext implements VMContext over the already popped argument slice.
type hostContext struct {
	args    []Variant // in source order, left-most first
	returns []Variant
}

func (c *hostContext) NumArgs() int { return len(c.args) }

func (c *hostContext) GetVariant(i int) (Variant, error) {
	// Index 0 addresses the top of stack, which is the last argument.
	pos := len(c.args) - 1 - i
	if pos < 0 || pos >= len(c.args) {
		return nil, fmt.Errorf("argument index %d out of bounds (%d args)", i, len(c.args))
	}
	return c.args[pos], nil
}

func (c *hostContext) GetInt(i int) (Integer, error) {
	v, err := c.GetVariant(i)
	if err != nil {
		return 0, err
	}
	return VariantToInteger(v)
}

func (c *hostContext) GetFloat(i int) (Number, error) {
	v, err := c.GetVariant(i)
	if err != nil {
		return 0, err
	}
	return VariantToNumber(v)
}

func (c *hostContext) GetString(i int) (string, error) {
	v, err := c.GetVariant(i)
	if err != nil {
		return "", err
	}
	switch v.(type) {
	case String, Integer, Number, LocalizedString:
		return VariantToString(v), nil
	}
	return "", fmt.Errorf("expected string argument, got %s", TypeName(v))
}

func (c *hostContext) GetVector(i int) (Vector, error) {
	v, err := c.GetVariant(i)
	if err != nil {
		return Vector{}, err
	}
	vec, ok := v.(Vector)
	if !ok {
		return Vector{}, fmt.Errorf("expected vector argument, got %s", TypeName(v))
	}
	return vec, nil
}

func (c *hostContext) GetObject(i int) (*Object, error) {
	v, err := c.GetVariant(i)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("expected object argument, got %s", TypeName(v))
	}
	return obj, nil
}

func (c *hostContext) AddUndefined()      { c.returns = append(c.returns, Undefined{}) }
func (c *hostContext) AddInt(n Integer)   { c.returns = append(c.returns, n) }
func (c *hostContext) AddFloat(n Number)  { c.returns = append(c.returns, n) }
func (c *hostContext) AddString(s string) { c.returns = append(c.returns, String(s)) }
func (c *hostContext) AddVector(v Vector) { c.returns = append(c.returns, v) }
func (c *hostContext) AddObject(o *Object) {
	c.returns = append(c.returns, o)
}

func (c *hostContext) AddBool(b bool) {
	if b {
		c.AddInt(1)
	} else {
		c.AddInt(0)
	}
}
