package topics

// Renderer formats raw topic content for the terminal. format is the file
// extension including the dot.
type Renderer interface {
	Render(content, format string) string
}

// PlainRenderer returns content unchanged.
type PlainRenderer struct{}

func (PlainRenderer) Render(content, format string) string {
	return content
}
