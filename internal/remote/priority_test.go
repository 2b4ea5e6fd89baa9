package remote

import "testing"

func TestMapPriority(t *testing.T) {
	cases := []struct {
		in              string
		impact, urgency int
	}{
		{"critical", 1, 1},
		{"CRITICAL", 1, 1},
		{"  Critical ", 1, 1},
		{"high", 1, 2},
		{"High", 1, 2},
		{"medium", 2, 2},
		{"MEDIUM", 2, 2},
		{"low", 2, 3},
		{"", 2, 3},
		{"urgent!!", 2, 3},
	}
	for _, tc := range cases {
		impact, urgency := MapPriority(tc.in)
		if impact != tc.impact || urgency != tc.urgency {
			t.Errorf("MapPriority(%q) = (%d,%d), want (%d,%d)", tc.in, impact, urgency, tc.impact, tc.urgency)
		}
	}
}
