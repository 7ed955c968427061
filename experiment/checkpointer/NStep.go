package checkpointer

import "fmt"

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	next     int // Step at or after which the next checkpoint is taken

	// filename returns the file of the next checkpoint, see Enumerate
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints at most once every
// n steps. Steps need not be passed one at a time: a checkpoint is
// taken on the first call whose step reaches the next multiple of n.
func NewNStep(n int, filename func() string) Checkpointer {
	return &nStep{
		interval: n,
		next:     n,
		filename: filename,
	}
}

// Checkpoint saves the object if step has reached the next checkpoint
func (n *nStep) Checkpoint(step int, object Serializable) error {
	if step < n.next {
		return nil
	}
	for n.next <= step {
		n.next += n.interval
	}
	return Save(n.filename(), object)
}

// Enumerate returns a function that returns prefix1extension,
// prefix2extension, ... on consecutive calls
func Enumerate(prefix, extension string) func() string {
	var count int
	return func() string {
		count++
		return fmt.Sprintf("%s%d%s", prefix, count, extension)
	}
}
