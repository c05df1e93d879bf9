package domain

import "sync"

// ItemList is a small ordered list with concurrent accessors, used for the
// agent's todo and phase lists exposed through ToolContext.
type ItemList struct {
	mu    sync.RWMutex
	items []string
}

// NewItemList creates an empty list.
func NewItemList() *ItemList {
	return &ItemList{}
}

// Items returns a copy of the list.
func (l *ItemList) Items() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]string, len(l.items))
	copy(cp, l.items)
	return cp
}

// Set replaces the list contents.
func (l *ItemList) Set(items []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items[:0], items...)
}

// Add appends an item.
func (l *ItemList) Add(item string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

// Len returns the number of items.
func (l *ItemList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
