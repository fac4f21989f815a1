package publish

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Handler serves a published repository over plain HTTP GET, the way
// OSTree clients pull. Responses are zstd encoded for clients that accept
// it.
type Handler struct {
	fs  billy.Filesystem
	enc *zstd.Encoder
	log *slog.Logger
}

// NewHandler serves the files of fs.
func NewHandler(fs billy.Filesystem, logger *slog.Logger) (*Handler, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{fs: fs, enc: enc, log: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	info, err := h.fs.Stat(name)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.Warn("stat published file", "path", name, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	data, err := util.ReadFile(h.fs, name)
	if err != nil {
		h.log.Error("read published file", "path", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if acceptsZstd(r.Header.Get("Accept-Encoding")) {
		data = h.enc.EncodeAll(data, nil)
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.log.Debug("write response", "path", name, "error", err)
	}
}

// Close releases the encoder.
func (h *Handler) Close() error { return h.enc.Close() }

func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "zstd") {
			return true
		}
	}
	return false
}
