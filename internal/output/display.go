package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type jobStatus int

const (
	statusPending jobStatus = iota
	statusActive
	statusSuccess
	statusError
)

type jobLine struct {
	label      string
	status     jobStatus
	message    string
	downloaded int64
	total      int64
	hasBar     bool
	start      time.Time
	updated    time.Time
	err        error
}

// Display redraws one row per job, with a progress bar under active jobs.
// On a non-terminal writer it only prints final results.
type Display struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	jobs        []*jobLine
	numLines    int
	tick        time.Duration
	doneCh      chan struct{}
	wg          sync.WaitGroup
}

func NewDisplay() *Display {
	return NewDisplayTo(os.Stdout, isTerminal(os.Stdout))
}

func NewDisplayTo(out io.Writer, interactive bool) *Display {
	return &Display{
		out:         out,
		interactive: interactive,
		tick:        200 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

// Register adds a pending row and returns its id.
func (d *Display) Register(label string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.jobs = append(d.jobs, &jobLine{label: label, start: now, updated: now})
	return len(d.jobs) - 1
}

func (d *Display) job(id int) *jobLine {
	if id < 0 || id >= len(d.jobs) {
		return nil
	}
	return d.jobs[id]
}

func (d *Display) SetMessage(id int, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if j := d.job(id); j != nil {
		if j.status == statusPending {
			j.status = statusActive
			j.start = time.Now()
		}
		j.message = message
		j.updated = time.Now()
	}
}

// Progress records the byte counts shown in the job's bar.
func (d *Display) Progress(id int, downloaded, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if j := d.job(id); j != nil {
		if j.status == statusPending {
			j.status = statusActive
		}
		j.downloaded = downloaded
		j.total = total
		j.hasBar = true
		j.updated = time.Now()
	}
}

func (d *Display) Complete(id int, message string) {
	d.finish(id, statusSuccess, message, nil)
}

func (d *Display) ReportError(id int, err error) {
	d.finish(id, statusError, "", err)
}

func (d *Display) finish(id int, status jobStatus, message string, err error) {
	d.mu.Lock()
	j := d.job(id)
	if j == nil {
		d.mu.Unlock()
		return
	}
	j.status = status
	j.hasBar = false
	j.err = err
	j.updated = time.Now()
	switch {
	case message != "":
		j.message = message
	case err != nil:
		j.message = fmt.Sprintf("Failed %s", j.label)
	default:
		j.message = fmt.Sprintf("Completed %s", j.label)
	}
	d.mu.Unlock()
	if !d.interactive {
		d.mu.Lock()
		fmt.Fprintln(d.out, d.row(j))
		d.mu.Unlock()
	}
}

func (d *Display) Start() {
	if !d.interactive {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.render()
			case <-d.doneCh:
				d.render()
				return
			}
		}
	}()
}

// Stop draws the final frame and prints the summary.
func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
	d.Summary()
}

func (d *Display) indicator(s jobStatus) string {
	switch s {
	case statusSuccess:
		return successStyle.Render(symbols["pass"])
	case statusError:
		return errorStyle.Render(symbols["fail"])
	case statusPending:
		return pendingStyle.Render(symbols["pending"])
	default:
		return infoStyle.Render(symbols["bullet"])
	}
}

func (d *Display) row(j *jobLine) string {
	elapsed := time.Since(j.start).Round(time.Second)
	if j.status == statusSuccess || j.status == statusError {
		elapsed = j.updated.Sub(j.start).Round(time.Second)
	}
	message := j.message
	if j.status == statusPending {
		message = "Waiting..."
	}
	var styled string
	switch j.status {
	case statusSuccess:
		styled = successStyle.Render(message)
	case statusError:
		styled = errorStyle.Render(message)
	default:
		styled = pendingStyle.Render(message)
	}
	return fmt.Sprintf("  %s %s %s", d.indicator(j.status), mutedStyle.Render(elapsed.String()), styled)
}

func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, height := terminalSize()
	available := height - 3
	if d.numLines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.numLines)
	}
	lines := 0
	for _, j := range d.jobs {
		if lines >= available {
			break
		}
		fmt.Fprintln(d.out, d.row(j))
		lines++
		if j.hasBar && lines < available {
			elapsed := time.Since(j.start).Seconds()
			fmt.Fprintf(d.out, "      %s\n", progressLine(j.downloaded, j.total, elapsed, barWidth()))
			lines++
		}
	}
	d.numLines = lines
}

// Summary prints success and failure counts followed by each error.
func (d *Display) Summary() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var success, failures int
	for _, j := range d.jobs {
		switch j.status {
		case statusSuccess:
			success++
		case statusError:
			failures++
		}
	}
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "  "+summaryStyle.Render(fmt.Sprintf("Completed %d of %d", success, len(d.jobs))))
	if failures == 0 {
		fmt.Fprintln(d.out)
		return
	}
	fmt.Fprintln(d.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(d.jobs))))
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "  "+errorStyle.Bold(true).Render("Errors:"))
	n := 0
	for _, j := range d.jobs {
		if j.status != statusError {
			continue
		}
		n++
		fmt.Fprintf(d.out, "    %s %s\n", errorStyle.Render(fmt.Sprintf("%d.", n)), errorStyle.Render(j.label))
		fmt.Fprintf(d.out, "      %s\n", errorStyle.Render(strings.TrimSpace(fmt.Sprintf("Error: %v", j.err))))
	}
	fmt.Fprintln(d.out)
}
