package console

import "github.com/fatih/color"

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// State renders a check result: green ok, otherwise the problem in warn
// (yellow) or fail (red) color.
func State(ok bool, problem string, fatal bool) string {
	switch {
	case ok:
		return Green("ok")
	case fatal:
		return Red(problem)
	}
	return Yellow(problem)
}
