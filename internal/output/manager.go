package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

type JobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	Downloaded  int64
	Total       int64
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders the state of every registered job. On a terminal it
// redraws in place; otherwise it prints one line per finished job.
type Manager struct {
	out         io.Writer
	live        bool
	outputs     map[int]*JobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout)
}

func NewManagerWithWriter(w io.Writer) *Manager {
	return &Manager{
		out:         w,
		live:        isTerminal(w),
		outputs:     make(map[int]*JobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.outputs[m.jobCount] = &JobOutput{
		ID:          m.jobCount,
		Label:       label,
		Status:      "pending",
		Total:       utils.UnknownLength,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.jobCount
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetProgress(id int, downloaded, total int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Status = "active"
		info.Downloaded = downloaded
		info.Total = total
		info.LastUpdated = time.Now()
	}
}

// Complete records the terminal outcome of a job.
func (m *Manager) Complete(id int, outcome utils.Outcome) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info, exists := m.outputs[id]
	if !exists {
		return
	}
	info.Complete = true
	info.LastUpdated = time.Now()
	switch o := outcome.(type) {
	case utils.Success:
		info.Status = "success"
		info.Message = fmt.Sprintf("Downloaded %s", o.Path)
	case utils.Failure:
		info.Status = "error"
		info.Error = errors.New(o.String())
		info.Message = fmt.Sprintf("Failed %s (%s)", info.Label, o.Kind)
	case utils.ServerFailure:
		info.Status = "error"
		info.Error = errors.New(o.String())
		info.Message = fmt.Sprintf("Failed %s (server status %d)", info.Label, o.Status)
	}
	if info.Error != nil {
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: info.Error, Time: time.Now()})
	}
	if !m.live {
		fmt.Fprintln(m.out, m.renderLine(info))
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["arrow"])
	}
}

func (m *Manager) renderLine(info *JobOutput) string {
	elapsed := time.Since(info.StartTime)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime)
	}
	var styledMessage string
	switch info.Status {
	case "success":
		styledMessage = successStyle.Render(info.Message)
	case "error":
		styledMessage = errorStyle.Render(info.Message)
	default:
		styledMessage = pendingStyle.Render(info.Message)
	}
	return fmt.Sprintf("%s%s %s %s", strings.Repeat(" ", 2), m.GetStatusIndicator(info.Status), debugStyle.Render(elapsed.Round(time.Second).String()), styledMessage)
}

func (m *Manager) sortedJobs() []*JobOutput {
	jobs := make([]*JobOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	availableLines := getTerminalHeight(m.out) - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lineCount := 0
	for _, info := range m.sortedJobs() {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintln(m.out, m.renderLine(info))
		lineCount++
		if info.Complete || info.Status != "active" || lineCount >= availableLines {
			continue
		}
		elapsed := time.Since(info.StartTime)
		display := fmt.Sprintf("%s%s %s %s",
			PrintProgressBar(info.Downloaded, info.Total, 30),
			debugStyle.Render(utils.FormatBytes(info.Downloaded)+" / "+utils.FormatBytes(info.Total)),
			StyleSymbols["bullet"],
			debugStyle.Render(utils.FormatSpeed(info.Downloaded, elapsed)))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), streamStyle.Render(display))
		lineCount++
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	if !m.live {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary.
func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	m.ShowSummary()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Label))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, failures int
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
