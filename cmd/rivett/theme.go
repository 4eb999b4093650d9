package main

import (
	"os/exec"
	"runtime"
	"strings"
)

// Theme is the default palette for cells without explicit colors.
type Theme struct {
	Name       string `json:"name"`
	Foreground string `json:"foreground"`
	Background string `json:"background"`
	Selection  string `json:"selection"`
	Cursor     string `json:"cursor"`
}

var (
	darkTheme  = Theme{Name: "dark", Foreground: "#e4e4e7", Background: "#18181b", Selection: "#3f3f46", Cursor: "#fafafa"}
	lightTheme = Theme{Name: "light", Foreground: "#27272a", Background: "#fafafa", Selection: "#d4d4d8", Cursor: "#18181b"}
)

// commandOutput runs a settings query; replaced in tests.
var commandOutput = func(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	return string(out), err
}

// Theme returns the palette matching the OS appearance.
func (a *App) Theme() Theme {
	if detectAppearance(runtime.GOOS) == "light" {
		return lightTheme
	}
	return darkTheme
}

// detectAppearance returns "dark" or "light", preferring dark when the
// platform gives no answer.
func detectAppearance(goos string) string {
	switch goos {
	case "darwin":
		// AppleInterfaceStyle is absent in light mode
		out, err := commandOutput("defaults", "read", "-g", "AppleInterfaceStyle")
		if err != nil || strings.TrimSpace(out) != "Dark" {
			return "light"
		}
		return "dark"
	case "linux":
		if out, err := commandOutput("gsettings", "get", "org.gnome.desktop.interface", "color-scheme"); err == nil {
			lower := strings.ToLower(out)
			if strings.Contains(lower, "dark") {
				return "dark"
			}
			if strings.Contains(lower, "light") {
				return "light"
			}
		}
		if out, err := commandOutput("gsettings", "get", "org.gnome.desktop.interface", "gtk-theme"); err == nil &&
			strings.Contains(strings.ToLower(out), "light") {
			return "light"
		}
	}
	return "dark"
}
