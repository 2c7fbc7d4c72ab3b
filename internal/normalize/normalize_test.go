package normalize

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme", "acme"},
		{"  ACME  ", "acme"},
		{"Société Générale, S.A.", "societe generale s a"},
		{"Saint-Étienne", "saint etienne"},
		{"O'Reilly   Media", "o reilly media"},
		{"Zürich 2", "zurich 2"},
		{"", ""},
		{"---", ""},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := Fold(tc.in); got != tc.want {
				t.Errorf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
