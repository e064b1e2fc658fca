package tray

import "testing"

func TestTray_ToggleWithoutMenu(t *testing.T) {
	tr := New()
	if !tr.IsEnabled() {
		t.Fatal("new tray should start enabled")
	}

	var got []bool
	tr.OnToggle(func(enabled bool) { got = append(got, enabled) })

	tr.handleToggle()
	tr.handleToggle()

	if len(got) != 2 || got[0] || !got[1] {
		t.Errorf("toggle callbacks = %v, want [false true]", got)
	}
	if !tr.IsEnabled() {
		t.Error("IsEnabled() = false after two toggles")
	}
}

func TestTray_StatusBeforeReady(t *testing.T) {
	tr := New()

	// Status updates before the menu exists are dropped
	tr.SetClicking(true)
	tr.SetDistance(120)
}

func TestTitles(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{toggleTitle(true), "● Pointer control on"},
		{toggleTitle(false), "○ Pointer control off"},
		{clickTitle(true), "Button: down"},
		{clickTitle(false), "Button: up"},
		{distanceTitle(0), "Distance: -"},
		{distanceTitle(349.6), "Distance: 350 mm"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("title = %q, want %q", tt.got, tt.want)
		}
	}
}
