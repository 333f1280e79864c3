package main

import "github.com/charmbracelet/lipgloss"

// Centralized style definitions for terminal output.
var (
	// Headings and labels.
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	labelStyle = lipgloss.NewStyle().Bold(true)

	// Status styles.
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow

	// Spinner / animation styles.
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")) // magenta

	// General utility styles.
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray/dim

	// Prompt blocks.
	promptBlockStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				BorderLeft(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("8"))

	// Error block style.
	errorBlockStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("1"))
)

// Tree-drawing characters for hierarchical display.
const (
	treeCorner = "└ "
	treeTee    = "├ "
)
