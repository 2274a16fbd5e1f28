package conf

import "net/http"

// Value 代表一個設定值，可以是固定值(Literal)或依照請求計算的值(Computed)
type Value[T any] struct {
	literal  T
	computed func(*http.Request) T
}

// Literal 建立固定值
func Literal[T any](v T) Value[T] {
	return Value[T]{literal: v}
}

// Computed 建立依照請求計算的值
func Computed[T any](fn func(*http.Request) T) Value[T] {
	return Value[T]{computed: fn}
}

// IsComputed 回傳是否為依照請求計算的值
func (v Value[T]) IsComputed() bool {
	return v.computed != nil
}

// Resolve 取得當前請求下的實際值
func (v Value[T]) Resolve(r *http.Request) T {
	if v.computed != nil {
		return v.computed(r)
	}
	return v.literal
}
