// Package termui builds the cli.Ui Sail's CLI prints through and reports
// executor progress events to it, upgrading to a live counter when stdout
// is a terminal.
package termui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
	progressbar "github.com/schollz/progressbar/v3"

	"github.com/sail-build/sail/internal/executor"
)

// IsTTY is true when stdout appears to be a terminal.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

// New builds the layered cli.Ui Sail prints through: colored output over a
// basic writer, wrapped for concurrent-safe access since multiple executor
// goroutines report progress at once.
func New(out, errOut io.Writer) cli.Ui {
	base := &cli.BasicUi{Writer: out, ErrorWriter: errOut}
	colored := &cli.ColoredUi{
		Ui:          base,
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		WarnColor:   cli.UiColor{Code: int(color.FgYellow), Bold: false},
		ErrorColor:  cli.UiColorRed,
	}
	return &cli.ConcurrentUi{Ui: colored}
}

// Reporter turns executor.Event values into terminal output: one line per
// task completion when stdout isn't a tty, a single redrawn progress bar
// when it is.
type Reporter struct {
	ui  cli.Ui
	bar *progressbar.ProgressBar
}

// NewReporter builds a Reporter. total is the number of leaf tasks the run
// is expected to execute, used only to size the progress bar.
func NewReporter(ui cli.Ui, total int) *Reporter {
	r := &Reporter{ui: ui}
	if IsTTY && total > 0 {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("running"),
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

// Report is an executor.ProgressFunc.
func (r *Reporter) Report(ev executor.Event) {
	if ev.Kind != executor.TaskFinished {
		return
	}
	if r.bar != nil {
		_ = r.bar.Add(1)
		return
	}
	r.ui.Output(fmt.Sprintf("%s: %s", ev.TaskID, outcomeLabel(ev)))
}

// Finish closes out any live progress bar, a no-op when none was drawn.
func (r *Reporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func outcomeLabel(ev executor.Event) string {
	label := ev.Outcome.String()
	switch ev.Outcome.String() {
	case "succeeded":
		return color.GreenString(label)
	case "failed":
		return color.RedString(label)
	case "skipped":
		return color.YellowString(label)
	default:
		return label
	}
}
