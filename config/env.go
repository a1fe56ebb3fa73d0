package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// lookupFunc resolves one environment variable. os.LookupEnv in production.
type lookupFunc func(key string) (string, bool)

var durationType = reflect.TypeOf(time.Duration(0))

// loadFromEnv overlays CAREERXP_* environment variables onto cfg.
func loadFromEnv(cfg *Config) error {
	_, err := applyEnv(cfg, os.LookupEnv)
	return err
}

// applyEnv walks v and sets every field carrying an env tag that lookup
// resolves to a non-empty value. It returns the variable names it applied.
func applyEnv(v any, lookup lookupFunc) ([]string, error) {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("expected pointer, got %s", val.Kind())
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %s", val.Kind())
	}

	var applied []string
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}

		if field.Kind() == reflect.Struct {
			nested, err := applyEnv(field.Addr().Interface(), lookup)
			if err != nil {
				return applied, err
			}
			applied = append(applied, nested...)
			continue
		}

		key := sf.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			return applied, fmt.Errorf("%s: %w", key, err)
		}
		applied = append(applied, key)
	}
	return applied, nil
}

func setField(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", raw)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", raw)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", raw)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", raw)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", raw)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		// comma separated; blanks dropped so "a,,b" yields two items
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type: %s", field.Type())
		}
		m := reflect.MakeMap(field.Type())
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid map entry format: %s", pair)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(field.Type().Key()), reflect.ValueOf(v).Convert(field.Type().Elem()))
		}
		field.Set(m)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
