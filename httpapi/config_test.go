package httpapi

import "testing"

func TestConfigMountPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"//", ""},
		{"querydesk", "/querydesk"},
		{"/querydesk", "/querydesk"},
		{"/querydesk/", "/querydesk"},
		{" /tools/sql/ ", "/tools/sql"},
		{"/a//b/../c", "/a/c"},
	}
	for _, tc := range cases {
		if got := (Config{BasePath: tc.in}).mountPath(); got != tc.want {
			t.Fatalf("mountPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
