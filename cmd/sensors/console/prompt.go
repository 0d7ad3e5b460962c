package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// YesOrNo asks a confirmation question. Anything but an explicit yes,
// including an empty answer, counts as no.
func YesOrNo(question string) (string, error) {
	return Prompt(question, No, Yes)
}

// Prompt reads one answer restricted to choices. The first choice is the
// default and is shown upper-cased.
func Prompt(question string, choices ...string) (string, error) {
	if len(choices) == 0 {
		return readLine(question + " ")
	}
	shown := make([]string, len(choices))
	copy(shown, choices)
	shown[0] = strings.ToUpper(shown[0])
	response, err := readLine(question + " [" + strings.Join(shown, "/") + "]: ")
	if err != nil {
		return "", err
	}
	response = strings.ToLower(strings.TrimSpace(response))
	for _, c := range choices {
		if response == c {
			return c, nil
		}
	}
	return choices[0], nil
}

func readLine(prompt string) (string, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return "", err
	}
	defer rl.Close()
	return rl.Readline()
}
