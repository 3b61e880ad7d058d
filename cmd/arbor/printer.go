package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// printer writes engine events to a terminal, one line each.
type printer struct {
	out io.Writer

	dim     *color.Color
	ok      *color.Color
	warn    *color.Color
	bad     *color.Color
	phase   *color.Color
	request *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:     out,
		dim:     color.New(color.Faint),
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
		phase:   color.New(color.FgMagenta, color.Bold),
		request: color.New(color.FgCyan, color.Bold),
	}
}

func (p *printer) consume(events <-chan orchestrator.Event) {
	for ev := range events {
		p.print(ev)
	}
}

func (p *printer) print(ev orchestrator.Event) {
	// The terminal approver prints the request itself.
	if ev.Type == orchestrator.EventTerminationRequested {
		return
	}
	stamp := p.dim.Sprint(ev.Timestamp.Format("15:04:05"))
	line := ev.String()
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i] + " …"
	}
	fmt.Fprintf(p.out, "%s %s\n", stamp, p.colorFor(ev).Sprint(line))
}

func (p *printer) colorFor(ev orchestrator.Event) *color.Color {
	switch ev.Type {
	case orchestrator.EventPhaseChanged, orchestrator.EventRunCompleted:
		return p.phase
	case orchestrator.EventTerminationResolved:
		return p.request
	case orchestrator.EventEscalation:
		return p.bad
	case orchestrator.EventRejection:
		return p.warn
	case orchestrator.EventCommand:
		if ev.Result != nil && (ev.Result.TimedOut || ev.Result.ExitCode != 0) {
			return p.warn
		}
		return p.ok
	case orchestrator.EventNodeFinished:
		if ev.Report != nil && ev.Report.Status == models.ReportFail {
			return p.bad
		}
		return p.ok
	case orchestrator.EventFileChanged, orchestrator.EventNodeDestroyed:
		return p.dim
	}
	return color.New(color.Reset)
}
