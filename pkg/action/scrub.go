package action

import "reflect"

// Scrub zeroes a payload in place. Byte slices are cleared through their
// backing arrays before the slice header is dropped, so copies that still
// alias the array see zeros too.
func Scrub(p Payload) {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	scrubValue(v.Elem())
}

func scrubValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			clear(v.Bytes())
		} else {
			for i := 0; i < v.Len(); i++ {
				scrubValue(v.Index(i))
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			scrubValue(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanSet() {
				scrubValue(v.Field(i))
			}
		}
	}
	if v.CanSet() {
		v.SetZero()
	}
}
