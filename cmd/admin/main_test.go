package main

import "testing"

func TestRawValue(t *testing.T) {
	cases := map[string]string{
		"3":        `3`,
		" 2.5 ":    `2.5`,
		"t * 2":    `"t * 2"`,
		"1e3":      `1e3`,
		`"quoted"`: `"\"quoted\""`,
	}
	for in, want := range cases {
		if got := string(rawValue(in)); got != want {
			t.Fatalf("rawValue(%q)=%s want %s", in, got, want)
		}
	}
}
