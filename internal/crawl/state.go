package crawl

import "carcrawler/internal/storage"

// State is the mutable state of one crawl run: the link sets and the records
// waiting to be flushed. It is created empty at the start of a run and never persisted.
type State struct {
	Links  *LinkSet
	Buffer *storage.Buffer
}

// NewState creates an empty crawl state.
func NewState() *State {
	return &State{
		Links:  NewLinkSet(),
		Buffer: storage.NewBuffer(),
	}
}
