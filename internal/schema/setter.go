package schema

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// setter stores a raw driver value into a struct field.
type setter func(field reflect.Value, raw any) error

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
	bytesType   = reflect.TypeFor[[]byte]()
)

// newSetter builds the conversion for one field type. It runs once per
// column when the graph is built.
func newSetter(t reflect.Type) (setter, error) {
	if reflect.PointerTo(t).Implements(scannerType) {
		return func(field reflect.Value, raw any) error {
			return field.Addr().Interface().(sql.Scanner).Scan(raw)
		}, nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := newSetter(t.Elem())
		if err != nil {
			return nil, err
		}
		return func(field reflect.Value, raw any) error {
			if raw == nil {
				field.SetZero()
				return nil
			}
			v := reflect.New(t.Elem())
			if err := inner(v.Elem(), raw); err != nil {
				return err
			}
			field.Set(v)
			return nil
		}, nil
	}
	if t == timeType {
		return nullable(func(field reflect.Value, raw any) error {
			ts, err := cast.ToTimeE(normalize(raw))
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(ts))
			return nil
		}), nil
	}
	if t == bytesType || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8) {
		return nullable(func(field reflect.Value, raw any) error {
			var b []byte
			switch v := raw.(type) {
			case []byte:
				b = append([]byte(nil), v...)
			case string:
				b = []byte(v)
			default:
				return fmt.Errorf("cannot store %T in %s", raw, t)
			}
			field.SetBytes(b)
			return nil
		}), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return nullable(func(field reflect.Value, raw any) error {
			b, err := cast.ToBoolE(normalize(raw))
			if err != nil {
				return err
			}
			field.SetBool(b)
			return nil
		}), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return nullable(func(field reflect.Value, raw any) error {
			n, err := cast.ToInt64E(normalize(raw))
			if err != nil {
				return err
			}
			if field.OverflowInt(n) {
				return fmt.Errorf("value %d overflows %s", n, t)
			}
			field.SetInt(n)
			return nil
		}), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nullable(func(field reflect.Value, raw any) error {
			n, err := cast.ToUint64E(normalize(raw))
			if err != nil {
				return err
			}
			if field.OverflowUint(n) {
				return fmt.Errorf("value %d overflows %s", n, t)
			}
			field.SetUint(n)
			return nil
		}), nil
	case reflect.Float32, reflect.Float64:
		return nullable(func(field reflect.Value, raw any) error {
			f, err := cast.ToFloat64E(normalize(raw))
			if err != nil {
				return err
			}
			field.SetFloat(f)
			return nil
		}), nil
	case reflect.String:
		return nullable(func(field reflect.Value, raw any) error {
			s, err := cast.ToStringE(normalize(raw))
			if err != nil {
				return err
			}
			field.SetString(s)
			return nil
		}), nil
	case reflect.Struct, reflect.Interface, reflect.Slice, reflect.Map:
		return nullable(func(field reflect.Value, raw any) error {
			v := reflect.ValueOf(raw)
			switch {
			case v.Type().AssignableTo(t):
				field.Set(v)
			case v.Type().ConvertibleTo(t):
				field.Set(v.Convert(t))
			default:
				return fmt.Errorf("cannot store %T in %s", raw, t)
			}
			return nil
		}), nil
	}
	return nil, fmt.Errorf("unsupported column type %s", t)
}

// nullable resets the field to its zero value for SQL NULL.
func nullable(set setter) setter {
	return func(field reflect.Value, raw any) error {
		if raw == nil {
			field.SetZero()
			return nil
		}
		return set(field, raw)
	}
}

// normalize turns driver byte slices into strings so cast can parse them.
func normalize(raw any) any {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}
