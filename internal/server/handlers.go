package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"panoramer/internal/fsutil"
	"panoramer/internal/imaging"
	"panoramer/internal/pipeline"
	"panoramer/internal/stitch"
	"panoramer/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// processStart anchors the monotonic heartbeat.
var processStart = time.Now()

const multipartMemory = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"heartbeat": time.Since(processStart).Nanoseconds()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxUploadBytes
	if r.ContentLength > limit {
		writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes!", limit))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes!", limit))
			return
		}
		writeMessage(w, http.StatusBadRequest, "Images are required!")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files[]"]
	if len(files) == 0 {
		writeMessage(w, http.StatusBadRequest, "Images are required!")
		return
	}
	for _, fh := range files {
		if !fsutil.AllowedUpload(fh.Filename) || fsutil.SanitizeFilename(fh.Filename) == "" {
			writeMessage(w, http.StatusBadRequest, "Invalid file type!")
			return
		}
	}
	if len(files) < 2 {
		writeMessage(w, http.StatusBadRequest, "At least two images are required!")
		return
	}

	if err := os.MkdirAll(s.cfg.Paths.UploadDir, 0o755); err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved := make([]string, 0, len(files))
	for _, fh := range files {
		meta, err := s.saveUpload(fh)
		if err != nil {
			s.log.Warn("upload rejected", "file", fh.Filename, "error", err)
			if errors.Is(err, stitch.ErrInvalidInput) {
				writeMessage(w, http.StatusBadRequest, err.Error())
			} else {
				writeMessage(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		if err := s.store.RecordImageMetadata(meta); err != nil {
			s.log.Warn("failed to record upload", "file", meta.FilePath, "error", err)
		}
		saved = append(saved, filepath.Base(meta.FilePath))
	}

	s.log.Info("images uploaded", "count", len(saved), "files", saved)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Images uploaded successfully!",
		"files":   saved,
	})
}

// saveUpload checks that fh decodes as an image and writes it into the
// upload directory under its sanitized name.
func (s *Server) saveUpload(fh *multipart.FileHeader) (storage.ImageMetadata, error) {
	src, err := fh.Open()
	if err != nil {
		return storage.ImageMetadata{}, err
	}
	defer src.Close()

	cfg, format, err := imaging.DecodeConfig(src)
	if err != nil {
		return storage.ImageMetadata{}, fmt.Errorf("%s is not a readable image: %w", fh.Filename, stitch.ErrInvalidInput)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return storage.ImageMetadata{}, err
	}

	dst := filepath.Join(s.cfg.Paths.UploadDir, fsutil.SanitizeFilename(fh.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return storage.ImageMetadata{}, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return storage.ImageMetadata{}, fmt.Errorf("save %s: %w", dst, err)
	}
	return storage.ImageMetadata{
		FilePath:  dst,
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: n,
	}, nil
}

func (s *Server) handleStitch(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runJob(w, r, pipeline.Job{
		Type:      pipeline.JobStitch,
		InputPath: s.cfg.Paths.UploadDir,
		Output:    s.cfg.Paths.OutputDir,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":             "Images stitched successfully!",
		"job_id":              res.Job.ID,
		"panorama_image_path": res.Meta["panorama_image"],
		"matched_points_path": res.Meta["matched_points"],
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runJob(w, r, pipeline.Job{
		Type:      pipeline.JobGenerate,
		InputPath: s.cfg.Paths.UploadDir,
		Output:    s.cfg.ResultsDir(),
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Panorama generated successfully!",
		"job_id":  res.Job.ID,
		"results": res.Meta["results"],
	})
}

// runJob submits job, waits for it and writes the error response itself
// when the job fails. The bool reports whether the caller should respond.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request, job pipeline.Job) (pipeline.Result, bool) {
	res, err := s.pipeline.SubmitAndWait(r.Context(), job)
	if errors.Is(err, pipeline.ErrQueueFull) {
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
		return res, false
	}
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return res, false
	}
	if res.Error != nil {
		writeJSON(w, statusForError(res.Error), map[string]any{
			"message": res.Error.Error(),
			"kind":    stitch.Kind(res.Error),
			"job_id":  res.Job.ID,
		})
		return res, false
	}
	return res, true
}

// statusForError maps failure kinds onto HTTP status codes.
func statusForError(err error) int {
	switch stitch.Kind(err) {
	case "InvalidInput":
		return http.StatusBadRequest
	case "InsufficientFeatures", "InsufficientMatches", "DegenerateHomography":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleClearUploads(w http.ResponseWriter, r *http.Request) {
	if err := fsutil.ClearDir(s.cfg.Paths.UploadDir); err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.ClearImageMetadata(); err != nil {
		s.log.Warn("failed to clear upload records", "error", err)
	}
	s.log.Info("uploads cleared", "dir", s.cfg.Paths.UploadDir)
	writeMessage(w, http.StatusOK, "Uploads folder cleared successfully!")
}

func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	path, err := fsutil.SafeJoin(s.cfg.ResultsDir(), name)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("%s not found", name))
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleServeAllFiles(w http.ResponseWriter, r *http.Request) {
	files, err := fsutil.ListFiles(s.cfg.ResultsDir())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.store.Uploads()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	meta, err := s.store.JobMeta(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	steps, err := s.store.JobSteps(id)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":   rec,
		"meta":  meta,
		"steps": steps,
	})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
				return
			}
			payload, err := json.Marshal(res)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
