package launcher

import (
	"fmt"
	"strings"
)

// WorkerOptions are the per-run settings passed to every worker.
type WorkerOptions struct {
	Input      string
	Dataset    string
	ScratchDir string
	TmpDir     string
	Pipeline   string
	LogLevel   string
}

// WorkerArgs builds the argument list substituted for {args}. nodeWork is
// the encoded region.
func WorkerArgs(o WorkerOptions, nodeWork, taskName string) []string {
	args := []string{
		"worker",
		"--input=" + o.Input,
		"--dataset=" + o.Dataset,
		"--scratch-dir=" + o.ScratchDir,
		"--pipeline=" + o.Pipeline,
		"--node-work=" + nodeWork,
		"--process-name=" + taskName,
	}
	if o.TmpDir != "" {
		args = append(args, "--tmp-dir="+o.TmpDir)
	}
	if o.LogLevel != "" {
		args = append(args, "--log-level="+o.LogLevel)
	}
	return args
}

// ParseWorkerArgs is the inverse of WorkerArgs.
func ParseWorkerArgs(args []string) (o WorkerOptions, nodeWork, taskName string, err error) {
	if len(args) == 0 || args[0] != "worker" {
		return o, "", "", fmt.Errorf("worker args: missing worker subcommand")
	}
	for _, a := range args[1:] {
		key, value, ok := strings.Cut(strings.TrimPrefix(a, "--"), "=")
		if !ok || !strings.HasPrefix(a, "--") {
			return o, "", "", fmt.Errorf("worker args: malformed argument %q", a)
		}
		switch key {
		case "input":
			o.Input = value
		case "dataset":
			o.Dataset = value
		case "scratch-dir":
			o.ScratchDir = value
		case "tmp-dir":
			o.TmpDir = value
		case "pipeline":
			o.Pipeline = value
		case "log-level":
			o.LogLevel = value
		case "node-work":
			nodeWork = value
		case "process-name":
			taskName = value
		default:
			return o, "", "", fmt.Errorf("worker args: unknown flag --%s", key)
		}
	}
	return o, nodeWork, taskName, nil
}
