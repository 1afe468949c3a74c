package function

import (
	"strings"
	"testing"
)

func validFunction() *Function {
	return &Function{
		OwnerID:     "user-1",
		Name:        "greeter",
		Code:        `__exports.greet = function(name) { return "Hello " + name; };`,
		Permissions: []string{"storage:read", "storage:write"},
	}
}

func TestValidate(t *testing.T) {
	if err := validFunction().Validate(); err != nil {
		t.Fatalf("valid function rejected: %v", err)
	}

	tests := []struct {
		name     string
		mutate   func(*Function)
		fragment string
	}{
		{"empty name", func(f *Function) { f.Name = "" }, "name is required"},
		{"whitespace name", func(f *Function) { f.Name = "   " }, "name is required"},
		{"missing owner", func(f *Function) { f.OwnerID = "" }, "owner is required"},
		{"empty code", func(f *Function) { f.Code = "" }, "code is required"},
		{"whitespace code", func(f *Function) { f.Code = "\n\t " }, "code is required"},
		{"unknown permission", func(f *Function) { f.Permissions = []string{"net:raw"} }, `unknown permission "net:raw"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fn := validFunction()
			tc.mutate(fn)
			err := fn.Validate()
			if err == nil {
				t.Fatal("invalid function accepted")
			}
			if !strings.Contains(err.Error(), tc.fragment) {
				t.Errorf("error = %q, want fragment %q", err, tc.fragment)
			}
		})
	}
}

func TestValidateAllKnownPermissions(t *testing.T) {
	fn := validFunction()
	fn.Permissions = []string{"storage:read", "storage:write", "memory:read", "memory:write", "ai:call", "app:call"}
	if err := fn.Validate(); err != nil {
		t.Errorf("known permissions rejected: %v", err)
	}
}
