// Package command builds the external commands the pipeline executes.
// Builders are pure: identical inputs produce byte-identical commands, with
// no clocks, randomness, or I/O involved.
package command

import (
	"fmt"
	"strings"
)

// Command is a structured subprocess invocation. Argv form only — command
// strings are never concatenated into a shell.
type Command struct {
	Program string
	Args    []string
	Env     []string
	Dir     string

	// ContinueOnFailure marks pre-processing commands whose non-zero exit
	// degrades to a warning instead of failing the stage.
	ContinueOnFailure bool
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Program
	}
	return c.Program + " " + strings.Join(c.Args, " ")
}

// Split tokenizes a directive string into argv, honoring single and double
// quotes. Malformed quoting falls back to whitespace splitting.
func Split(s string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
		inArg   bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return strings.Fields(s)
	}
	if inArg {
		args = append(args, current.String())
	}
	return args
}

// Expand substitutes {name} placeholders from vars. Unknown placeholders are
// an error so a typo in a layer's update command template fails loudly.
func Expand(template string, vars map[string]string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+open])
		i += open
		close := strings.IndexByte(template[i:], '}')
		if close < 0 {
			out.WriteString(template[i:])
			break
		}
		name := template[i+1 : i+close]
		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unknown placeholder %q in command template", name)
		}
		out.WriteString(val)
		i += close + 1
	}
	return out.String(), nil
}
