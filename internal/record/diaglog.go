package record

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

var rule = strings.Repeat("-", 120)

// DiagnosticLog appends diagnostic tool output framed by horizontal rules.
type DiagnosticLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func OpenDiagnosticLog(path string) (*DiagnosticLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open diagnostic log %q: %w", path, err)
	}
	return &DiagnosticLog{path: path, file: f}, nil
}

func (l *DiagnosticLog) Path() string {
	return l.path
}

// AppendDiagnostic writes one framed block: rule, header line, output
// lines, rule. Blank lines are dropped.
func (l *DiagnosticLog) AppendDiagnostic(ts time.Time, host, tool string, lines []string) error {
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%s\t%s %s result:\n", ts.Format(types.RecordTimeLayout), host, tool)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(rule + "\n")
	return l.append(b.String())
}

// AppendFailure writes the failure line of a diagnostic that produced no
// usable output, closed by a rule.
func (l *DiagnosticLog) AppendFailure(ts time.Time, host, tool string) error {
	return l.append(fmt.Sprintf("%s\t%s %s error\n%s\n", ts.Format(types.RecordTimeLayout), host, tool, rule))
}

func (l *DiagnosticLog) append(block string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := bufio.NewWriter(l.file)
	if _, err := w.WriteString(block); err != nil {
		return fmt.Errorf("write diagnostic log %q: %w", l.path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write diagnostic log %q: %w", l.path, err)
	}
	return nil
}

func (l *DiagnosticLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
