// Package textprint renders values as aligned text tables.
package textprint

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
)

// encoder writes the text of a value in a table cell.
type encoder func(io.Writer, reflect.Value) error

var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

func encoderOf(t reflect.Type) encoder {
	if t.Implements(stringerType) {
		return func(w io.Writer, v reflect.Value) error {
			_, err := io.WriteString(w, v.Interface().(fmt.Stringer).String())
			return err
		}
	}
	switch t.Kind() {
	case reflect.Bool:
		return func(w io.Writer, v reflect.Value) error {
			_, err := io.WriteString(w, strconv.FormatBool(v.Bool()))
			return err
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(w io.Writer, v reflect.Value) error {
			_, err := io.WriteString(w, strconv.FormatInt(v.Int(), 10))
			return err
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(w io.Writer, v reflect.Value) error {
			_, err := io.WriteString(w, strconv.FormatUint(v.Uint(), 10))
			return err
		}
	case reflect.String:
		return func(w io.Writer, v reflect.Value) error {
			_, err := io.WriteString(w, v.String())
			return err
		}
	case reflect.Slice:
		return sliceEncoder(encoderOf(t.Elem()))
	default:
		panic("cannot print values of type " + t.String() + " in a table")
	}
}

// sliceEncoder lists the elements of a slice separated by commas.
func sliceEncoder(elem encoder) encoder {
	return func(w io.Writer, v reflect.Value) error {
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := elem(w, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
}

func fieldEncoder(f reflect.StructField) encoder {
	encode := encoderOf(f.Type)
	return func(w io.Writer, v reflect.Value) error {
		return encode(w, v.FieldByIndex(f.Index))
	}
}
