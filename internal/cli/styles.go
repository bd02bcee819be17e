package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/guidoenr/blowcounter/internal/audio"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#2E9BD6")
	errorColor   = lipgloss.Color("#A40000")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)
)

// PrintVersion prints version information
func PrintVersion(version string) {
	fmt.Println(TitleStyle.Render("Blow Counter"))
	fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
	fmt.Println()
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("Error:"), message)
}

// PrintDevices lists capture devices and the one used when none is named.
func PrintDevices(w io.Writer, devices []audio.Device, auto string) {
	fmt.Fprintln(w, TitleStyle.Render("Audio input devices"))
	for _, dev := range devices {
		name := ValueStyle.Render(dev.Name)
		if dev.IsDefaultInput {
			name += KeyStyle.Render(" (default)")
		}
		fmt.Fprintf(w, "- %s [%s]\n    %s %d  %s %.0f Hz\n",
			name, dev.HostAPI,
			KeyStyle.Render("inputs:"), dev.MaxInput,
			KeyStyle.Render("sample rate:"), dev.DefaultSampleHz)
	}
	if auto != "" {
		fmt.Fprintf(w, "\n%s %s\n", KeyStyle.Render("Auto-detected input:"), ValueStyle.Render(auto))
	}
}
