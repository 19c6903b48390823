package version

import "testing"

func TestInfoString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   Info
		want string
	}{
		{Info{Version: "v0.3.0"}, "v0.3.0"},
		{Info{Version: "v0.3.0", Commit: "0123456789abcdef"}, "v0.3.0 (0123456789ab)"},
		{Info{Version: "dev", Commit: "abc", Modified: true}, "dev (abc-dirty)"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	t.Parallel()
	if Resolve().Version == "" {
		t.Fatal("Resolve returned an empty version")
	}
}
