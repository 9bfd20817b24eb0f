package session

import "fmt"

// PageCursor is the current position in a document. Total is 0 until the renderer
// reports the page count.
type PageCursor struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Known reports whether the total page count has been reported.
func (c PageCursor) Known() bool {
	return c.Total > 0
}

// Navigator holds pagination state for the installed document.
// The zero value has no document installed.
type Navigator struct {
	ref    string
	cursor PageCursor
}

// Install points the navigator at a new document and rewinds to page 1.
func (n *Navigator) Install(ref string) {
	n.ref = ref
	n.cursor = PageCursor{Current: 1}
}

// Clear drops the installed document.
func (n *Navigator) Clear() {
	*n = Navigator{}
}

// Active reports whether a document is installed.
func (n *Navigator) Active() bool {
	return n.ref != ""
}

// Ref returns the installed document reference.
func (n *Navigator) Ref() string {
	return n.ref
}

// Cursor returns the current page cursor.
func (n *Navigator) Cursor() PageCursor {
	return n.cursor
}

// OnMetadataLoaded records the page count reported by the renderer. It is accepted once
// per installed document.
func (n *Navigator) OnMetadataLoaded(total int) error {
	if !n.Active() {
		return ErrNoDocument
	}
	if total < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPageCount, total)
	}
	if n.cursor.Known() {
		return ErrMetadataAlreadyLoaded
	}
	n.cursor.Total = total
	n.cursor.Current = clamp(n.cursor.Current, 1, total)
	return nil
}

// GoTo moves the cursor by offset, clamped to [1, Total]. It is a no-op until the page
// count is known. Returns whether the current page changed.
func (n *Navigator) GoTo(offset int) bool {
	if !n.cursor.Known() {
		return false
	}
	offset = clamp(offset, 1-n.cursor.Current, n.cursor.Total-n.cursor.Current)
	next := n.cursor.Current + offset
	if next == n.cursor.Current {
		return false
	}
	n.cursor.Current = next
	return true
}

// CanGoBack reports whether a previous page exists.
func (n *Navigator) CanGoBack() bool {
	return n.Active() && n.cursor.Current > 1
}

// CanGoForward reports whether a next page exists.
func (n *Navigator) CanGoForward() bool {
	return n.Active() && n.cursor.Current < n.cursor.Total
}

// Label renders the "Page X of N" caption.
func (n *Navigator) Label() string {
	if !n.Active() {
		return ""
	}
	if !n.cursor.Known() {
		return fmt.Sprintf("Page %d of ?", n.cursor.Current)
	}
	return fmt.Sprintf("Page %d of %d", n.cursor.Current, n.cursor.Total)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
