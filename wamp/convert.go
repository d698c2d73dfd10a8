package wamp

// AsString is an extended type assertion for string.
func AsString(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case URI:
		return string(v), true
	}
	return "", false
}

// AsID is an extended type assertion for ID.
func AsID(v interface{}) (ID, bool) {
	if i64, ok := AsInt64(v); ok {
		return ID(i64), true
	}
	return ID(0), false
}

// AsInt64 is an extended type assertion for int64.  Decoders produce
// different integer types for the same wire value, so all of them are
// accepted.
func AsInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case ID:
		return int64(v), true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	}
	return 0, false
}

// AsBool is an extended type assertion for bool.
func AsBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsDict is an extended type assertion for Dict.
func AsDict(v interface{}) (Dict, bool) {
	n := NormalizeDict(v)
	return n, n != nil
}

// OptionString returns named value as string; empty string if missing or not
// string type.
func OptionString(opts Dict, optionName string) string {
	opt, _ := AsString(opts[optionName])
	return opt
}

// OptionInt64 returns named value as int64; 0 if missing or not integer type.
func OptionInt64(opts Dict, optionName string) int64 {
	opt, _ := AsInt64(opts[optionName])
	return opt
}

// OptionFlag returns named value as bool; false if missing or not bool type.
func OptionFlag(opts Dict, optionName string) bool {
	opt, _ := AsBool(opts[optionName])
	return opt
}
