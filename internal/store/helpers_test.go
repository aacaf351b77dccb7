package store

import (
	"testing"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero_uses_default", 0, 50},
		{"negative_uses_default", -3, 50},
		{"within_range", 10, 10},
		{"capped", 10_000, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLimit(tt.limit, 50, 500); got != tt.want {
				t.Errorf("clampLimit(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestMarshalMessagesNilIsEmptyArray(t *testing.T) {
	data, err := marshalMessages(nil)
	if err != nil {
		t.Fatalf("marshalMessages: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("marshalMessages(nil) = %s, want []", data)
	}
	msgs, err := unmarshalMessages(nil)
	if err != nil || len(msgs) != 0 {
		t.Errorf("unmarshalMessages(nil) = %v, %v", msgs, err)
	}
	if _, err := unmarshalMessages([]byte("{")); err == nil {
		t.Error("unmarshalMessages(invalid) err = nil")
	}
}
