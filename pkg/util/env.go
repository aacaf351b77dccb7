// Package util 提供通用工具函数。
//
//   - LoadFromEnv / LoadFromLookup  通过 struct tag 反射加载配置
//   - ClampInt                      数值限幅
//   - SafeGo                        带 panic 恢复的 goroutine
package util

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// LookupFunc 与 os.LookupEnv 同签名, 测试可注入 map。
type LookupFunc func(name string) (string, bool)

// ClampInt 将值限制在 [lo, hi] 范围内。
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadFromEnv 从进程环境变量填充 ptr 指向的 struct。
func LoadFromEnv(ptr any) error { return LoadFromLookup(ptr, os.LookupEnv) }

// LoadFromLookup 通过反射按 struct tag 填充字段:
//   - env:"VAR_NAME"   环境变量名, 缺省则跳过该字段
//   - default:"value"  未设置或无效时的取值
//   - min:"N"          int 字段下限
//
// 支持 string, int, bool。无效值回落到默认值, 并汇总为返回的 error。
func LoadFromLookup(ptr any, lookup LookupFunc) error {
	rv := reflect.ValueOf(ptr)
	if ptr == nil || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.New("util.LoadFromLookup: ptr must be a non-nil pointer to struct")
	}
	v := rv.Elem()
	t := v.Type()

	var errs []error
	for i := range t.NumField() {
		field := t.Field(i)
		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		def := field.Tag.Get("default")
		raw, ok := lookup(name)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			raw = def
		}
		if err := setField(v.Field(i), raw, def, field.Tag.Get("min")); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func setField(fv reflect.Value, raw, def, minStr string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)

	case reflect.Int:
		n, err := strconv.Atoi(raw)
		var bad error
		if err != nil {
			n, _ = strconv.Atoi(def)
			if raw != "" {
				bad = fmt.Errorf("invalid int %q, using %d", raw, n)
			}
		}
		if lo, err := strconv.Atoi(minStr); err == nil && n < lo {
			n = lo
		}
		fv.SetInt(int64(n))
		return bad

	case reflect.Bool:
		b, ok := parseBool(raw)
		if !ok {
			b, _ = parseBool(def)
			fv.SetBool(b)
			if raw == "" {
				return nil
			}
			return fmt.Errorf("invalid bool %q, using %t", raw, b)
		}
		fv.SetBool(b)

	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// parseBool 接受 1/true/yes/on 与 0/false/no/off。
func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
