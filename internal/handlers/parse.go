package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/parser"
	"github.com/rumor-ml/commons.systems/tally/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/validate"
)

// upload is one staged multipart file.
type upload struct {
	Name string
	Path string
}

// formatParam reads {format}.
func formatParam(r *http.Request) (parser.Format, error) {
	return optionalFormat(r.PathValue("format"))
}

// optionalFormat resolves a format name; empty and "auto" mean detect.
func optionalFormat(v string) (parser.Format, error) {
	if v == "" || v == "auto" {
		return "", nil
	}
	f, err := parser.ParseFormat(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return f, nil
}

// mappingField decodes the optional "mapping" form field.
func mappingField(r *http.Request) (*csv.ColumnMapping, error) {
	v := r.FormValue("mapping")
	if v == "" {
		return nil, nil
	}
	var m csv.ColumnMapping
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, fmt.Errorf("%w: invalid mapping: %v", domain.ErrValidation, err)
	}
	return &m, nil
}

func boolField(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", domain.ErrValidation, key)
	}
	return b, nil
}

// receive stages the request's "file" and "files" parts in a fresh
// directory. Each file keeps its name, in its own subdirectory, so format
// detection sees the original extension. The caller removes dir.
func (a *API) receive(w http.ResponseWriter, r *http.Request) (dir string, files []upload, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		return "", nil, fmt.Errorf("%w: failed to parse form: %v", domain.ErrValidation, err)
	}

	headers := append(r.MultipartForm.File["file"], r.MultipartForm.File["files"]...)
	if len(headers) == 0 {
		return "", nil, fmt.Errorf("%w: no files uploaded", domain.ErrValidation)
	}

	dir, err = os.MkdirTemp(a.uploadDir, "tally-upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	for i, fh := range headers {
		path, err := stage(filepath.Join(dir, strconv.Itoa(i)), fh)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		files = append(files, upload{Name: filepath.Base(path), Path: path})
	}
	return dir, files, nil
}

func stage(dir string, fh *multipart.FileHeader) (string, error) {
	name := filepath.Base(filepath.Clean("/" + fh.Filename))
	if name == "/" || name == "." {
		name = "upload"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open upload %s: %v", domain.ErrSourceUnreadable, name, err)
	}
	defer src.Close()

	path := filepath.Join(dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to stage upload %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to stage upload %s: %w", name, err)
	}
	return path, nil
}

type previewResponse struct {
	File    string      `json:"file"`
	Format  string      `json:"format"`
	Preview interface{} `json:"preview"`
}

// Preview handles POST /api/preview/{format}
func (a *API) Preview(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	dir, files, err := a.receive(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	f := files[0]
	if format == "" {
		if format, err = a.svc.DetectFormat(f.Path); err != nil {
			writeError(w, r, err)
			return
		}
	}
	out, err := a.svc.PreviewFile(r.Context(), f.Path, format, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, previewResponse{File: f.Name, Format: string(format), Preview: out})
}

type parseResponse struct {
	*pipeline.Parsed
	Validation *validate.ValidationResult `json:"validation"`
}

// Parse handles POST /api/parse/{format}. Nothing is written to the ledger.
func (a *API) Parse(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dir, files, err := a.receive(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	mapping, err := mappingField(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	f := files[0]
	parsed, err := a.svc.ParseFile(r.Context(), f.Path, format, mapping)
	if err != nil {
		writeError(w, r, err)
		return
	}
	parsed.Path = f.Name
	writeJSON(w, r, http.StatusOK, parseResponse{
		Parsed:     parsed,
		Validation: validate.ValidateBatch(parsed.Transactions, domain.DateOf(a.now())),
	})
}
