package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"upload-drop/internal/logging"
)

const (
	fileField     = "file"
	fileNameField = "file_name"

	// maxFileNameBytes bounds the file_name text field.
	maxFileNameBytes = 4 << 10
)

var (
	errNoFile          = errors.New("no file part")
	errMalformedUpload = errors.New("malformed multipart body")
	errScratch         = errors.New("scratch file")
)

// uploadResp is returned after the file has been moved into place. Path is
// built from the requested name, not the normalized destination.
type uploadResp struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

// handleUpload handles POST /upload. The request is already authenticated.
// The file part is streamed to a scratch file, the destination is resolved
// under the storage root, and the scratch file is renamed into place.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := RequestIDFromContext(r.Context())

	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}

	in, err := receiveUpload(r, s.tempDir)
	defer in.cleanup(s.logger)
	if err != nil {
		s.rejectReceive(w, r, err)
		return
	}

	name := in.fieldName
	if !in.hasFieldName {
		name = fixFilenameEncoding(in.originalName)
	}

	dest, err := resolveDestination(s.root, s.tempDir, name)
	if err != nil {
		s.logger.Warn("rejected upload name", "rid", rid, "name", name)
		s.failUpload(w, r, http.StatusBadRequest, "Invalid file name", name, err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		s.logger.Error("create upload directory", "rid", rid, "dir", filepath.Dir(dest), "err", err)
		s.failUpload(w, r, http.StatusInternalServerError, "Error creating directory", name, err)
		return
	}

	if err := os.Rename(in.tempPath, dest); err != nil {
		s.logger.Error("move upload into place", "rid", rid, "dest", dest, "err", err)
		s.failUpload(w, r, http.StatusInternalServerError, "Error moving file", name, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResp{
		Message: "File uploaded and saved successfully",
		Path:    "/files/" + name,
	})

	s.logger.Log(r.Context(), logging.LevelNotice, "file uploaded",
		"rid", rid,
		"path", dest,
		"bytes", in.size,
	)
	s.metrics.UploadSaved(in.size, time.Since(start))

	key := s.objectKey(dest)
	s.audit.record(r, AuditEvent{
		Action:    AuditActionFileUpload,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Resource:  key,
		Details:   map[string]any{"bytes": in.size, "requested_name": name},
		Success:   true,
	})
	s.replicate(rid, key, dest)
}

// rejectReceive maps a failure while reading the multipart body to its
// response.
func (s *Server) rejectReceive(w http.ResponseWriter, r *http.Request, err error) {
	rid := RequestIDFromContext(r.Context())

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.logger.Warn("upload exceeds size limit", "rid", rid, "limit", tooLarge.Limit)
		s.failUpload(w, r, http.StatusRequestEntityTooLarge, "File too large", "", err)
	case errors.Is(err, errNoFile):
		s.failUpload(w, r, http.StatusBadRequest, "No file uploaded", "", err)
	case errors.Is(err, errInvalidName):
		s.failUpload(w, r, http.StatusBadRequest, "Invalid file name", "", err)
	case errors.Is(err, errScratch):
		s.logger.Error("write scratch file", "rid", rid, "err", err)
		s.failUpload(w, r, http.StatusInternalServerError, "Error receiving file", "", err)
	default:
		s.logger.Warn("read upload body", "rid", rid, "err", err)
		s.failUpload(w, r, http.StatusBadRequest, "Error reading upload", "", err)
	}
}

func (s *Server) failUpload(w http.ResponseWriter, r *http.Request, status int, msg, name string, cause error) {
	writeMessage(w, status, msg)
	s.metrics.UploadFailed(status)

	s.audit.record(r, AuditEvent{
		Action:    AuditActionFileUpload,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Resource:  name,
		Details:   map[string]any{"status": status},
		Success:   false,
		ErrorMsg:  cause.Error(),
	})
}

// objectKey is dest relative to the storage root in slash form.
func (s *Server) objectKey(dest string) string {
	rel, err := filepath.Rel(s.root, dest)
	if err != nil {
		return filepath.Base(dest)
	}
	return filepath.ToSlash(rel)
}

// incomingUpload is what receiveUpload collected from the multipart body.
type incomingUpload struct {
	tempPath     string
	originalName string
	size         int64

	fieldName    string
	hasFieldName bool
}

// receiveUpload streams the body part by part. The first "file" part that
// carries a filename goes to a scratch file in tempDir and the first
// "file_name" text part is kept. Every other part is drained and ignored.
// The returned upload is never nil so its cleanup can always be deferred.
func receiveUpload(r *http.Request, tempDir string) (*incomingUpload, error) {
	in := &incomingUpload{}

	mr, err := r.MultipartReader()
	if err != nil {
		// Not multipart at all, or no boundary: there is no file.
		return in, errNoFile
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return in, fmt.Errorf("%w: %w", errMalformedUpload, err)
		}

		switch {
		case part.FormName() == fileField && part.FileName() != "" && in.tempPath == "":
			err = in.store(part, tempDir)
		case part.FormName() == fileNameField && part.FileName() == "" && !in.hasFieldName:
			err = in.readFieldName(part)
		}
		_ = part.Close()
		if err != nil {
			return in, err
		}
	}

	if in.tempPath == "" {
		return in, errNoFile
	}
	return in, nil
}

func (in *incomingUpload) store(part *multipart.Part, tempDir string) error {
	in.originalName = part.FileName()
	in.tempPath = filepath.Join(tempDir, uuid.NewString()+".part")

	f, err := os.OpenFile(in.tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		in.tempPath = ""
		return fmt.Errorf("%w: %w", errScratch, err)
	}

	n, err := io.Copy(scratchWriter{f}, part)
	in.size = n
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", errScratch, cerr)
	}
	if err != nil && !errors.Is(err, errScratch) {
		// Any error not raised by the scratch file came from the body.
		err = fmt.Errorf("%w: %w", errMalformedUpload, err)
	}
	return err
}

func (in *incomingUpload) readFieldName(part *multipart.Part) error {
	b, err := io.ReadAll(io.LimitReader(part, maxFileNameBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedUpload, err)
	}
	if len(b) > maxFileNameBytes {
		return errInvalidName
	}
	in.fieldName = string(b)
	// An empty file_name falls back to the client filename.
	in.hasFieldName = in.fieldName != ""
	return nil
}

// cleanup removes the scratch file. After a successful rename it is already
// gone, which is fine.
func (in *incomingUpload) cleanup(logger *slog.Logger) {
	if in.tempPath == "" {
		return
	}
	if err := os.Remove(in.tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("remove scratch file", "path", in.tempPath, "err", err)
	}
}

// scratchWriter tags write errors so they can be told apart from errors
// reading the request body.
type scratchWriter struct {
	f *os.File
}

func (w scratchWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = fmt.Errorf("%w: %w", errScratch, err)
	}
	return n, err
}
