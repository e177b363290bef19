package view

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/html"
)

// Renderer mounts a tree into a target, replacing what the target held.
type Renderer interface {
	Render(target string, tree *html.Node) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(target string, tree *html.Node) error

func (f RendererFunc) Render(target string, tree *html.Node) error {
	return f(target, tree)
}

// RenderString serializes tree as HTML. A nil tree renders as "".
func RenderString(tree *html.Node) (string, error) {
	if tree == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, tree); err != nil {
		return "", fmt.Errorf("render tree: %w", err)
	}
	return buf.String(), nil
}

// WriterRenderer writes each rendered tree to W on its own line.
type WriterRenderer struct {
	W  io.Writer
	mu sync.Mutex
}

func (r *WriterRenderer) Render(target string, tree *html.Node) error {
	out, err := RenderString(tree)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = fmt.Fprintf(r.W, "%s: %s\n", target, out)
	return err
}

// Recorder keeps the last serialized tree per target.
type Recorder struct {
	output map[string]string
	count  int
	mu     sync.RWMutex
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{output: make(map[string]string)}
}

func (r *Recorder) Render(target string, tree *html.Node) error {
	out, err := RenderString(tree)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[target] = out
	r.count++
	return nil
}

// Last returns the last output rendered into target.
func (r *Recorder) Last(target string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.output[target]
}

// Count returns the number of renders.
func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
