// Command tuneprintd is the optional HTTP collaborator (spec §6): thin
// JSON wrappers over the core recognition contracts.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tuneprint/internal/engine"
	"tuneprint/internal/index"
	"tuneprint/pkg/config"
	"tuneprint/pkg/logger"
)

type server struct {
	rec   *engine.Recognizer
	store index.Storage
	log   *logger.Logger
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", config.Default().DBPath, "path to the index database")
	flag.Parse()

	log := logger.Named("httpd")

	cfg := config.Build(config.WithDBPath(*dbPath))
	backing, err := index.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal("opening index: %v", err)
	}
	defer backing.Close()

	store, err := index.NewCachedStore(backing, 256)
	if err != nil {
		log.Fatal("building cache: %v", err)
	}

	srv := &server{rec: engine.New(store, cfg), store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/recognize", srv.withRequestID(srv.handleRecognize))
	mux.HandleFunc("/recognize/stream", srv.withRequestID(srv.handleRecognizeStream))
	mux.HandleFunc("/stats", srv.withRequestID(srv.handleStats))
	mux.HandleFunc("/songs", srv.withRequestID(srv.handleSongs))
	mux.HandleFunc("/health", srv.handleHealth)

	log.Info("listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal("server exited: %v", err)
	}
}

type requestIDKey struct{}

// withRequestID stamps each request with a google/uuid correlation ID,
// echoed in the response header and used in log lines.
func (s *server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		s.log.Debug("[%s] %s %s", id, r.Method, r.URL.Path)
		next(w, r)
	}
}

type recognizeResponse struct {
	Match             bool    `json:"match"`
	Artist            string  `json:"artist,omitempty"`
	Album             string  `json:"album,omitempty"`
	Title             string  `json:"title,omitempty"`
	SongID            string  `json:"songId,omitempty"`
	RecognitionTimeMs int64   `json:"recognitionTimeMs"`
	Score             int     `json:"score,omitempty"`
	OffsetSeconds     float64 `json:"offsetSeconds,omitempty"`
}

func (s *server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "missing 'audio' form field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	s.recognizeFromReader(w, r, file, header.Filename)
}

// streamExtensions maps the raw-body endpoint's Content-Type to the
// extension audio.DecodeFile dispatches on, since the stream has no
// filename of its own to infer one from.
var streamExtensions = map[string]string{
	"audio/wav":    ".wav",
	"audio/wave":   ".wav",
	"audio/x-wav":  ".wav",
	"audio/mpeg":   ".mp3",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
}

func (s *server) handleRecognizeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]))
	ext, ok := streamExtensions[contentType]
	if !ok {
		ext = ".wav"
	}
	s.recognizeFromReader(w, r, r.Body, "stream"+ext)
}

func (s *server) recognizeFromReader(w http.ResponseWriter, r *http.Request, body io.Reader, filename string) {
	tmp, err := os.CreateTemp("", "tuneprint-recognize-*"+filepath.Ext(filename))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		http.Error(w, "reading upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	tmp.Close()

	start := time.Now()
	result, err := s.rec.Recognize(r.Context(), tmp.Name())
	elapsed := time.Since(start)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := recognizeResponse{
		Match:             result.Matched,
		RecognitionTimeMs: elapsed.Milliseconds(),
		Score:             result.Score,
		OffsetSeconds:     result.OffsetSeconds,
	}
	if result.Matched && result.Song != nil {
		resp.Artist = result.Song.Artist
		resp.Album = result.Song.Album
		resp.Title = result.Song.Title
		resp.SongID = result.Song.SongID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalSongs, totalHashes, err := s.rec.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_songs":  totalSongs,
		"total_hashes": totalHashes,
	})
}

func (s *server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		songs, err := s.store.ListSongs(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, songs)
	case http.MethodDelete:
		songID := r.URL.Query().Get("id")
		if songID == "" {
			http.Error(w, "missing id query parameter", http.StatusBadRequest)
			return
		}
		if err := s.store.DeleteSong(r.Context(), songID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
