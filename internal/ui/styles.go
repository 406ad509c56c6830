// Package ui holds the shared terminal styles for tasklink's CLI output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions.
var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// RenderPass renders a success marker or value.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders a warning marker or value.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderError renders an error marker or value.
func RenderError(s string) string { return errorStyle.Render(s) }

// RenderAccent renders an accented heading or marker.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders de-emphasized text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// Field renders one "label: value" stat line.
func Field(label string, value interface{}) string {
	return fmt.Sprintf("%s %v", labelStyle.Render(label+":"), value)
}
