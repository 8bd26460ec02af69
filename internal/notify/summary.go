package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// SummaryReporter collects notifications and writes periodic digests
type SummaryReporter struct {
	mu            sync.Mutex
	notifications []Notification
	outputPath    string
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewSummaryReporter creates a new summary reporter
func NewSummaryReporter(outputPath string, interval time.Duration) *SummaryReporter {
	return &SummaryReporter{
		notifications: make([]Notification, 0),
		outputPath:    outputPath,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Send adds an event to the next digest
func (s *SummaryReporter) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Build(ruleID, event, payload))
	return nil
}

// Start begins the periodic summary generation
func (s *SummaryReporter) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *SummaryReporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stopChan:
			// Final digest before exiting
			s.Flush()
			return
		}
	}
}

// Flush writes a digest of collected notifications and clears them
func (s *SummaryReporter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.notifications) == 0 {
		return nil
	}

	var output io.Writer
	if s.outputPath != "" {
		f, err := os.OpenFile(s.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open summary file: %w", err)
		}
		defer f.Close()
		output = f
	} else {
		output = os.Stdout
	}

	typeCounts := make(map[NotificationType]int)
	for _, n := range s.notifications {
		typeCounts[n.Type]++
	}
	types := make([]string, 0, len(typeCounts))
	for typ := range typeCounts {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	fmt.Fprintf(output, "\n=== Notification Summary (%s) ===\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(output, "Total notifications: %d\n", len(s.notifications))
	for _, typ := range types {
		fmt.Fprintf(output, "  %s: %d\n", typ, typeCounts[NotificationType(typ)])
	}

	// Last 10
	fmt.Fprintf(output, "\nRecent notifications:\n")
	start := len(s.notifications) - 10
	if start < 0 {
		start = 0
	}
	for _, n := range s.notifications[start:] {
		fmt.Fprintf(output, "  [%s] %s: %s\n", n.Timestamp.Format("15:04:05"), n.Type, n.Title)
	}
	fmt.Fprintf(output, "\n")

	s.notifications = make([]Notification, 0)
	return nil
}

// Close stops the reporter after a final digest
func (s *SummaryReporter) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}
