package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ----------------------------------------------------------------------------
// Value model

// This section defines the runtime values flowing through the machine.
//
// A Variant is one of the closed set below. Values are copied onto the
// operand stack by value, except objects and references which share. The
// numeric split follows the dialect: Integer is signed 32 bit, Number is a
// single precision float, and a Vector is three Numbers.

type Variant interface{}

type Undefined struct{}

type Integer int32

type Number float32

type String string

type Vector struct{ X, Y, Z Number }

// Returns the component at index 0, 1 or 2.
func (v Vector) At(i int) Number {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func (v *Vector) Set(i int, n Number) {
	switch i {
	case 0:
		v.X = n
	case 1:
		v.Y = n
	default:
		v.Z = n
	}
}

// A reference to a script function, resolved at call time by (file, name).
type FunctionPointer struct {
	File string
	Name string
}

// A deferred string table lookup, opaque to the machine.
type LocalizedString struct {
	Reference string
}

// A named animation reference, opaque to the machine.
type Animation struct {
	Reference string
}

// Returns a printable name for the dynamic type of v, used in error
// messages only.
func TypeName(v Variant) string {
	switch v.(type) {
	case Undefined:
		return "undefined"
	case Integer:
		return "integer"
	case Number:
		return "number"
	case String:
		return "string"
	case Vector:
		return "vector"
	case FunctionPointer:
		return "function pointer"
	case LocalizedString:
		return "localized string"
	case Animation:
		return "animation"
	case *Object:
		return "object"
	case Reference:
		return "reference"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ----------------------------------------------------------------------------
// Coercions

// VariantToString renders v the way the script level observes it, e.g. when
// concatenated to a string.
func VariantToString(v Variant) string {
	switch t := v.(type) {
	case String:
		return string(t)
	case Integer:
		return strconv.FormatInt(int64(t), 10)
	case Number:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case Undefined:
		return "undefined"
	case Vector:
		return fmt.Sprintf("(%s, %s, %s)",
			strconv.FormatFloat(float64(t.X), 'g', -1, 32),
			strconv.FormatFloat(float64(t.Y), 'g', -1, 32),
			strconv.FormatFloat(float64(t.Z), 'g', -1, 32))
	case FunctionPointer:
		return t.File + "::" + t.Name
	case LocalizedString:
		return t.Reference
	case Animation:
		return t.Reference
	case *Object:
		return "[object " + t.Name + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// VariantToNumber coerces the numeric types to Number.
func VariantToNumber(v Variant) (Number, error) {
	switch t := v.(type) {
	case Number:
		return t, nil
	case Integer:
		return Number(t), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to number", TypeName(v))
	}
}

// VariantToInteger coerces the numeric types to Integer, truncating.
func VariantToInteger(v Variant) (Integer, error) {
	switch t := v.(type) {
	case Integer:
		return t, nil
	case Number:
		return Integer(t), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to integer", TypeName(v))
	}
}

// Variable and field names compare case-insensitively, every lookup folds
// through here.
func FoldName(name string) string {
	return strings.ToLower(name)
}
