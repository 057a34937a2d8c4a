// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package redact

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// deniedKeys are normalized field names whose values are always secrets.
var deniedKeys = map[string]bool{
	"apikey":        true,
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"clientsecret":  true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"idtoken":       true,
	"authorization": true,
	"cookie":        true,
	"setcookie":     true,
	"privatekey":    true,
	"sessionid":     true,
	"credentials":   true,
	"bearer":        true,
	"xapikey":       true,
}

// deniedSuffixes catch compound names such as "tidalRefreshToken".
var deniedSuffixes = []string{"token", "secret", "password", "apikey", "privatekey"}

// allowedKeys look sensitive but hold no secret.
var allowedKeys = map[string]bool{
	"tokentype":       true,
	"tokenexpiresat":  true,
	"tokenpresent":    true,
	"authmode":        true,
	"authfailuremode": true,
	"keycount":        true,
	"secretsloaded":   true,
	"passwordset":     true,
	"apikeypresent":   true,
	"nexttoken":       true,
}

// IsSensitiveKey reports whether values stored under key must never be
// emitted. Matching ignores case, '_' and '-'.
func IsSensitiveKey(key string) bool {
	k := normalizeKey(key)
	if allowedKeys[k] {
		return false
	}
	if deniedKeys[k] {
		return true
	}
	for _, suf := range deniedSuffixes {
		if strings.HasSuffix(k, suf) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.ToLower(key))
}

// Value returns a redacted deep copy of v. Maps and slices are recursed;
// string leaves go through Text; values under sensitive keys are replaced
// with Marker whatever their type. Maps come back as map[string]any and
// slices as []any so the result marshals predictably.
func Value(v any) any {
	return value(reflect.ValueOf(v))
}

// Map is Value for the common details-map case.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Marker
			continue
		}
		out[k] = Value(v)
	}
	return out
}

func value(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem())
	case reflect.String:
		return Text(rv.String())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			if IsSensitiveKey(k) {
				out[k] = Marker
				continue
			}
			out[k] = value(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Text(string(rv.Bytes()))
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = value(rv.Index(i))
		}
		return out
	case reflect.Struct:
		// Structs go through their JSON form so tags decide the key names.
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return Marker
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return Marker
		}
		return value(reflect.ValueOf(generic))
	}
	return rv.Interface()
}
