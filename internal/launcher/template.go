package launcher

import (
	"strings"

	"github.com/me/clusterize/pkg/model"
)

// Placeholders recognized in command templates.
const (
	ArgsPlaceholder     = "{args}"
	TaskNamePlaceholder = "{task_name}"
)

// Template is a validated launch command template, for example
//
//	qsub -pe batch 4 -N {task_name} -j y -b y -cwd -V 'clusterize {args}'
type Template struct {
	raw string
}

// ParseTemplate validates s. The {args} placeholder is required; {task_name}
// is optional.
func ParseTemplate(s string) (*Template, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &model.ConfigError{Field: "command_template", Msg: "is required"}
	}
	if !strings.Contains(s, ArgsPlaceholder) {
		return nil, &model.ConfigError{
			Field: "command_template",
			Msg:   "must contain the " + ArgsPlaceholder + " placeholder",
		}
	}
	return &Template{raw: s}, nil
}

// Render substitutes the worker arguments and the task name. The joined
// arguments are padded with one space on each side.
func (t *Template) Render(args []string, taskName string) string {
	r := strings.NewReplacer(
		ArgsPlaceholder, " "+strings.Join(args, " ")+" ",
		TaskNamePlaceholder, taskName,
	)
	return r.Replace(t.raw)
}

func (t *Template) String() string {
	return t.raw
}
