package router

// window remembers the last n event identities.
type window struct {
	ring []string
	next int
	seen map[string]struct{}
}

func newWindow(n int) *window {
	if n <= 0 {
		n = 1
	}
	return &window{ring: make([]string, 0, n), seen: make(map[string]struct{}, n)}
}

// add records key and reports whether it was already present.
func (w *window) add(key string) bool {
	if _, ok := w.seen[key]; ok {
		return true
	}
	if len(w.ring) < cap(w.ring) {
		w.ring = append(w.ring, key)
	} else {
		delete(w.seen, w.ring[w.next])
		w.ring[w.next] = key
		w.next = (w.next + 1) % len(w.ring)
	}
	w.seen[key] = struct{}{}
	return false
}
