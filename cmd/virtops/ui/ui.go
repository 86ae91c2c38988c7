package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"virtops"
)

// Palette, tuned for dark terminals.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	grey   = lipgloss.Color("243")
	border = lipgloss.Color("238")
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(green)
	errStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle  = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle = lipgloss.NewStyle().Foreground(grey)
	infoStyle  = lipgloss.NewStyle().Foreground(purple)
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

var statusStyles = map[virtops.Status]lipgloss.Style{
	virtops.StatusActive:     okStyle,
	virtops.StatusProcessing: warnStyle,
	virtops.StatusDeleted:    mutedStyle,
	virtops.StatusError:      errStyle,
}

func Bold(s string) string { return boldStyle.Render(s) }

// Status renders the status of rec, or a dash when there is no record.
func Status(rec *virtops.Record) string {
	if rec == nil {
		return mutedStyle.Render("-")
	}
	style, ok := statusStyles[rec.Status]
	if !ok {
		style = warnStyle
	}
	return style.Render(rec.Status.String())
}

// Converged renders the converged column of the status table.
func Converged(ok bool) string {
	if ok {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}

func SuccessMsg(format string, a ...any) string { return mark(okStyle, "✓", format, a...) }
func ErrorMsg(format string, a ...any) string   { return mark(errStyle, "✗", format, a...) }
func InfoMsg(format string, a ...any) string    { return mark(infoStyle, "●", format, a...) }

func mark(style lipgloss.Style, symbol, format string, a ...any) string {
	return style.Render(symbol) + " " + fmt.Sprintf(format, a...)
}

// Pair is one line of KeyValues output.
type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders one "key: value" line per pair with the values aligned.
func KeyValues(indent string, pairs ...Pair) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.key)+1)
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := mutedStyle.Render(fmt.Sprintf("%-*s", width, p.key+":"))
		fmt.Fprintf(&sb, "%s%s %s\n", indent, label, p.value)
	}
	return sb.String()
}

// Table renders rows under headers inside a rounded border.
func Table(headers []string, rows [][]string) string {
	head := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(border)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return head
			}
			return cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}
