package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/narvanalabs/tower-controller/internal/archive"
)

// DefaultArchiveWindow is how far back GET /api/archive reads without since.
const DefaultArchiveWindow = 7 * 24 * time.Hour

// ArchiveHandler serves long-term history from the archive.
type ArchiveHandler struct {
	archive archive.Archive
	logger  *slog.Logger
}

// NewArchiveHandler creates a new archive handler. A nil archive behaves as disabled.
func NewArchiveHandler(a archive.Archive, logger *slog.Logger) *ArchiveHandler {
	if a == nil {
		a = archive.Nop{}
	}
	return &ArchiveHandler{archive: a, logger: logger}
}

// Range handles GET /api/archive?towerId=N&since=RFC3339.
func (h *ArchiveHandler) Range(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := parseTowerID(q.Get("towerId"))
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	since := time.Now().Add(-DefaultArchiveWindow)
	if s := q.Get("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			WriteInvalidParam(w, r, "since", s, "since must be an RFC3339 timestamp")
			return
		}
	}

	samples, err := h.archive.Range(r.Context(), id, since)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, historyPoints(id, samples))
}
