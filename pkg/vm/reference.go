package vm

import "fmt"

// ----------------------------------------------------------------------------
// References

// This section defines the lvalue of the machine.
//
// A Reference points at one of three storage places: a named variable in
// the current function context, a field of an object, or one indexed slot
// of a vector held in some cell. It is a tagged variant dispatched at store
// time, produced by the ref-loading instructions and consumed by StoreRef.

type RefKind int

const (
	RefVariable RefKind = iota
	RefField
	RefVectorSlot
)

type Reference struct {
	Kind RefKind

	Variable string // RefVariable: folded variable name

	Object *Object // RefField
	Field  string  // RefField: folded field name

	Cell  *Variant // RefVectorSlot: the cell holding the vector
	Index int      // RefVectorSlot: component 0, 1 or 2
}

// Maps a property name onto a vector component index. Both the letter and
// the digit spelling work, anything else is out of bounds.
func vectorIndex(prop string) (int, error) {
	switch prop {
	case "x", "0":
		return 0, nil
	case "y", "1":
		return 1, nil
	case "z", "2":
		return 2, nil
	}
	return 0, fmt.Errorf("vector out of bounds")
}

// Store writes value through the reference.
func (r Reference) Store(vm *VirtualMachine, t *ThreadContext, value Variant) error {
	switch r.Kind {
	case RefVariable:
		cell, err := vm.variableCell(t, r.Variable)
		if err != nil {
			return err
		}
		*cell = value
		return nil

	case RefVectorSlot:
		vec, ok := (*r.Cell).(Vector)
		if !ok {
			return fmt.Errorf("vector slot reference no longer points at a vector")
		}
		n, err := VariantToNumber(value)
		if err != nil {
			return err
		}
		vec.Set(r.Index, n)
		*r.Cell = vec
		return nil

	case RefField:
		if r.Field == "size" {
			return fmt.Errorf("size is read-only")
		}
		r.Object.SetField(r.Field, value)
		return nil
	}
	return fmt.Errorf("not a lvalue")
}

// cell resolves the reference to the underlying storage cell, used when a
// further field reference is taken through it.
func (r Reference) cell(vm *VirtualMachine, t *ThreadContext) (*Variant, error) {
	switch r.Kind {
	case RefVariable:
		return vm.variableCell(t, r.Variable)
	case RefField:
		return r.Object.FieldCell(r.Field), nil
	case RefVectorSlot:
		return nil, fmt.Errorf("nested vector [][] not supported, a vector component is not a lvalue")
	}
	return nil, fmt.Errorf("not a lvalue")
}
