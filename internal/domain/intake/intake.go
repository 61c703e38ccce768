// Package intake holds the ordered set of images a user has staged for analysis.
package intake

import (
	"errors"
	"fmt"

	"github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
)

var ErrIndexOutOfRange = errors.New("image index out of range")

// PreviewStore issues displayable preview handles for staged images.
// Every handle returned by Acquire is released exactly once.
type PreviewStore interface {
	Acquire(img inspection.Image) (string, error)
	Release(handle string)
}

// Entry is one staged image with its preview handle.
type Entry struct {
	Image   inspection.Image
	Preview string
}

// Intake is not safe for concurrent use; the owning session serializes access.
type Intake struct {
	previews PreviewStore
	entries  []Entry
}

func New(previews PreviewStore) *Intake {
	return &Intake{previews: previews}
}

// Append adds images to the end of the collection, in order.
// When a preview cannot be issued, handles acquired by this call are released and nothing is appended.
func (in *Intake) Append(images ...inspection.Image) error {
	added := make([]Entry, 0, len(images))
	for _, img := range images {
		h, err := in.previews.Acquire(img)
		if err != nil {
			for _, e := range added {
				in.previews.Release(e.Preview)
			}
			return fmt.Errorf("preview for %s: %w", img.Name, err)
		}
		added = append(added, Entry{Image: img, Preview: h})
	}
	in.entries = append(in.entries, added...)
	return nil
}

// Remove drops the entry at k and releases its preview.
func (in *Intake) Remove(k int) error {
	if k < 0 || k >= len(in.entries) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, k, len(in.entries))
	}
	in.previews.Release(in.entries[k].Preview)
	in.entries = append(in.entries[:k:k], in.entries[k+1:]...)
	return nil
}

// Clear releases every preview and empties the collection.
func (in *Intake) Clear() {
	for _, e := range in.entries {
		in.previews.Release(e.Preview)
	}
	in.entries = nil
}

func (in *Intake) Len() int { return len(in.entries) }

// Entries returns a copy of the staged entries.
func (in *Intake) Entries() []Entry {
	out := make([]Entry, len(in.entries))
	copy(out, in.entries)
	return out
}

// Images returns the staged images in insertion order.
func (in *Intake) Images() []inspection.Image {
	out := make([]inspection.Image, 0, len(in.entries))
	for _, e := range in.entries {
		out = append(out, e.Image)
	}
	return out
}
