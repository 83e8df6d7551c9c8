package stomp

// Header is a single name:value pair.
type Header struct {
	Name  string
	Value string
}

// Headers keeps frame headers in insertion order. Names are case-sensitive.
type Headers []Header

// Get returns the value of the first header called name.
func (h Headers) Get(name string) (string, bool) {
	for _, header := range h {
		if header.Name == name {
			return header.Value, true
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (h Headers) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

// Has reports whether a header called name exists.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Add appends a header unless one with the same name already exists; the
// first occurrence of a repeated header wins.
func (h *Headers) Add(name, value string) bool {
	if h.Has(name) {
		return false
	}
	*h = append(*h, Header{Name: name, Value: value})
	return true
}

// Set replaces the value of an existing header or appends a new one.
func (h *Headers) Set(name, value string) {
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Names returns header names in order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for _, header := range h {
		names = append(names, header.Name)
	}
	return names
}
