package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/", want: true},
		{path: "/health", want: true},
		{path: "/channel/inbound", want: true},
		{path: "/ops/stats", want: false},
		{path: "/ops", want: false},
		{path: "/channels/inbound", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
