package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	cases := []struct {
		page, size string
		wantP      int
		wantS      int
	}{
		{"", "", 1, 20},
		{"3", "50", 3, 50},
		{"0", "0", 1, 1},
		{"-2", "500", 1, 100},
		{"x", "y", 1, 20},
	}
	for _, tc := range cases {
		p, s := ParsePage(tc.page, tc.size, 20, 100)
		if p != tc.wantP || s != tc.wantS {
			t.Fatalf("ParsePage(%q, %q) = %d, %d; want %d, %d", tc.page, tc.size, p, s, tc.wantP, tc.wantS)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, b,,a , c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("SplitList = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SplitList = %v; want %v", got, want)
		}
	}
	if SplitList("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
