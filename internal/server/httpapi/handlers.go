package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/server/auth"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
)

const maxUploadBytes = 256 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrConnectorNotFound), errors.Is(err, common.ErrRPCNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(s.adminPasswordHash, []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken("admin", s.jwtSecret, s.tokenValidity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connectors": s.sched.Status(r.Context())})
}

// handleTrigger fires a manual trigger and replies with the insertion log.
// A multipart body may carry an uploaded file plus a metadata JSON field; a
// plain JSON body carries metadata only.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	connectorID := chi.URLParam(r, "id")

	req, cleanup, err := s.parseTriggerRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer cleanup()

	records, err := s.sched.TriggerSync(r.Context(), connectorID, req)
	if err != nil && errors.Is(err, common.ErrConnectorNotFound) {
		writeError(w, err)
		return
	}

	resp := map[string]any{"records": records}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) parseTriggerRequest(r *http.Request) (scheduler.Request, func(), error) {
	req := scheduler.Request{}
	cleanup := func() {}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return req, cleanup, err
		}
		if meta := r.FormValue("metadata"); meta != "" {
			if err := json.Unmarshal([]byte(meta), &req.Metadata); err != nil {
				return req, cleanup, errors.New("metadata is not a JSON object")
			}
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			path, err := saveUpload(file, header.Filename)
			if err != nil {
				return req, cleanup, err
			}
			req.FilePath = path
			cleanup = func() { _ = os.Remove(path) }
		}

	case ct == "" || strings.HasPrefix(ct, "application/json"):
		var body struct {
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, cleanup, errors.New("invalid request body")
		}
		req.Metadata = body.Metadata

	default:
		return req, cleanup, errors.New("unsupported content type")
	}
	return req, cleanup, nil
}

// saveUpload spools the uploaded file to a temp path, keeping the original
// extension so connectors can dispatch on it.
func saveUpload(file io.Reader, name string) (string, error) {
	out, err := os.CreateTemp("", "upload-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	connectorID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	out, err := s.sched.DispatchRPC(r.Context(), connectorID, name, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
