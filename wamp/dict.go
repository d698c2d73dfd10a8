package wamp

import (
	"errors"
	"reflect"
	"strings"
)

// NormalizeDict takes a dict and creates a new normalized dict where all
// map[string]xxx are converted to Dict.  Values that cannot be converted, or
// are already the correct map type, remain the same.
//
// Decoders hand back map[string]interface{} or map[interface{}]interface{}
// depending on the encoding; normalizing lets lookups ignore the difference.
// The original dict is not mutated.
func NormalizeDict(v interface{}) Dict {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Map {
		return nil
	}
	dict := Dict{}
	for _, key := range val.MapKeys() {
		if key.Kind() == reflect.Interface {
			key = key.Elem()
		}
		if key.Kind() != reflect.String {
			continue
		}
		cv := val.MapIndex(key)
		newVal := NormalizeDict(cv.Interface())
		if newVal == nil {
			if cv.Kind() == reflect.Interface && cv.Elem().Kind() == reflect.Slice {
				cv = cv.Elem()
				listType := reflect.TypeOf(List{})
				if cv.Type().ConvertibleTo(listType) {
					cv = cv.Convert(listType)
				}
			}
			dict[key.String()] = cv.Interface()
			continue
		}
		dict[key.String()] = newVal
	}
	return dict
}

// DictChild returns the child dictionary for the given key, or nil if not
// present or not convertible to a Dict.
func DictChild(dict Dict, key string) Dict {
	iface, ok := dict[key]
	if !ok || iface == nil {
		return nil
	}
	child, ok := iface.(Dict)
	if !ok {
		child = NormalizeDict(iface)
	}
	return child
}

// DictValue returns the value specified by the slice of path elements.
//
// For example, the path []string{"authextra","pubkey"} returns the pubkey
// announced in the authextra of a HELLO or WELCOME.  An error is returned if
// the value is not present.
func DictValue(dict Dict, path []string) (interface{}, error) {
	for i := range path[:len(path)-1] {
		dict = DictChild(dict, path[i])
		if dict == nil {
			return nil, errors.New(
				"cannot find: " + strings.Join(path[:i+1], "."))
		}
	}
	v, ok := dict[path[len(path)-1]]
	if !ok {
		return nil, errors.New("cannot find: " + strings.Join(path, "."))
	}
	return v, nil
}

// SetOption sets a single option name-value pair in message options dict.
func SetOption(dict Dict, name string, value interface{}) Dict {
	if dict == nil {
		dict = Dict{}
	}
	dict[name] = value
	return dict
}

// Copy returns a shallow copy of the dict.  A nil dict copies to an empty
// one.
func (d Dict) Copy() Dict {
	c := make(Dict, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}
