package util

import (
	"strings"
	"testing"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{11, 1, 10, 10},
		{-3, -5, -1, -3},
	}
	for _, tt := range tests {
		if got := ClampInt(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

type sample struct {
	Name    string `env:"NAME" default:"anon"`
	Retries int    `env:"RETRIES" default:"3" min:"1"`
	Enabled bool   `env:"ENABLED" default:"true"`
	Skipped string
}

func TestLoadFromLookup(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    sample
		wantErr string
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: sample{Name: "anon", Retries: 3, Enabled: true},
		},
		{
			name: "overrides and min",
			env:  map[string]string{"NAME": " bob ", "RETRIES": "0", "ENABLED": "off"},
			want: sample{Name: "bob", Retries: 1, Enabled: false},
		},
		{
			name:    "invalid values fall back",
			env:     map[string]string{"RETRIES": "many", "ENABLED": "maybe"},
			want:    sample{Name: "anon", Retries: 3, Enabled: true},
			wantErr: "RETRIES",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sample
			err := LoadFromLookup(&got, mapLookup(tt.env))
			if tt.wantErr == "" && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadFromLookupRejectsNonPointer(t *testing.T) {
	var s sample
	for _, ptr := range []any{nil, s, new(int)} {
		if err := LoadFromLookup(ptr, mapLookup(nil)); err == nil {
			t.Errorf("LoadFromLookup(%T) error = nil", ptr)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NAME", "env-name")
	var s sample
	if err := LoadFromEnv(&s); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if s.Name != "env-name" {
		t.Errorf("Name = %q", s.Name)
	}
}
