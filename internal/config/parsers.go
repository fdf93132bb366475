// Package config loads walletload run settings from a YAML or JSON file and
// command-line flags. Flags override file values.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Settings arrive from viper as loosely typed trees: YAML yields ints and
// map[interface{}]interface{}, JSON yields float64 and map[string]interface{},
// and env-style values are strings. The helpers below fold those shapes into
// the concrete field types of Config. Empty strings and nil mean "unset".

// lookupSetting returns the first present key. viper lowercases keys, so each
// candidate is also tried in lower case.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		for _, k := range []string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

// blank reports whether value carries no setting at all.
func blank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

// number widens any Go numeric kind to float64.
func number(value interface{}) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// asInt truncates fractional numbers.
func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	if rv := reflect.ValueOf(value); rv.CanInt() {
		return int(rv.Int()), nil
	}
	if f, ok := number(value); ok {
		return int(f), nil
	}
	return 0, fmt.Errorf("cannot use %T as an integer", value)
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	if f, ok := number(value); ok {
		return f, nil
	}
	return 0, fmt.Errorf("cannot use %T as a number", value)
}

// asOptionalFloat64 keeps "unset" apart from an explicit zero.
func asOptionalFloat64(value interface{}) (*float64, error) {
	if blank(value) {
		return nil, nil
	}
	f, err := asFloat64(value)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return false, fmt.Errorf("cannot use %T as a boolean", value)
}

// asDuration accepts Go duration strings; bare numbers are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	}
	if rv := reflect.ValueOf(value); rv.CanInt() {
		return time.Duration(rv.Int()) * time.Second, nil
	}
	if f, ok := number(value); ok {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("cannot use %T as a duration", value)
}

// asStringSlice also accepts a single string as a one-element list.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := asString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if v, ok := value.([]interface{}); ok {
		return v, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// toStringKeyMap lowercases and trims keys so lookups match viper's own keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := asString(iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(key))] = iter.Value().Interface()
	}
	return out, nil
}
