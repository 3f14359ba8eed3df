package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// StreamServer is an httptest backend that writes scripted chunks with a flush after
// each, and records the request bodies it received.
type StreamServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	chunks   []string
	hold     bool
	bodies   [][]byte
	paths    []string
	accepts  []string
	released chan struct{}
}

// NewStreamServer answers every request with status and chunks
func NewStreamServer(status int, chunks ...string) *StreamServer {
	s := &StreamServer{status: status, chunks: chunks, released: make(chan struct{})}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Hold keeps the response open after the scripted chunks until the client goes away
// or Release is called
func (s *StreamServer) Hold() *StreamServer {
	s.mu.Lock()
	s.hold = true
	s.mu.Unlock()
	return s
}

// Release lets held responses finish
func (s *StreamServer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.released:
	default:
		close(s.released)
	}
}

// Close releases held responses before shutting the server down
func (s *StreamServer) Close() {
	s.Release()
	s.Server.Close()
}

func (s *StreamServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.paths = append(s.paths, r.URL.Path)
	s.accepts = append(s.accepts, r.Header.Get("Accept"))
	status, chunks, hold := s.status, s.chunks, s.hold
	s.mu.Unlock()

	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if hold {
		select {
		case <-r.Context().Done():
		case <-s.released:
		}
	}
}

// Bodies returns the request bodies received so far
func (s *StreamServer) Bodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.bodies...)
}

// Paths returns the request paths received so far
func (s *StreamServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Accepts returns the Accept headers received so far
func (s *StreamServer) Accepts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accepts...)
}
