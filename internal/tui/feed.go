package tui

// Feed keeps the most recent worker log lines for display
type Feed struct {
	items []string
	max   int
}

// NewFeed creates a feed holding at most limit lines
func NewFeed(limit int) *Feed {
	if limit < 1 {
		limit = 1
	}
	return &Feed{max: limit}
}

// Push appends a line, dropping the oldest when full
func (f *Feed) Push(line string) {
	f.items = append(f.items, line)
	if len(f.items) > f.max {
		f.items = f.items[len(f.items)-f.max:]
	}
}

// Lines returns the buffered lines, oldest first
func (f *Feed) Lines() []string {
	return f.items
}

func (f *Feed) Len() int {
	return len(f.items)
}
