package admin

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pushrelay/pushrelay/push"
)

// flushRequest is one committed host transaction's worth of entity changes.
// A zero revision asks the service to assign the next one; a positive
// revision is taken as the host's own and advances the watermark to it.
type flushRequest struct {
	Revision int64            `json:"revision"`
	Created  []push.EntityRef `json:"created"`
	Updated  []push.EntityRef `json:"updated"`
	Deleted  []push.EntityRef `json:"deleted"`
}

func (h *Handlers) handleFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Revision < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "revision cannot be negative")
		return
	}
	if len(req.Created)+len(req.Updated)+len(req.Deleted) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "flush carries no changes")
		return
	}

	revision := req.Revision
	if revision == 0 {
		var err error
		revision, err = h.store.NextRevision()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, "failed to assign revision: "+err.Error())
			return
		}
	} else if err := h.store.AdvanceRevision(revision); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "failed to advance revision: "+err.Error())
		return
	}

	h.flushes.Publish(push.Flush{
		Revision: revision,
		Created:  req.Created,
		Updated:  req.Updated,
		Deleted:  req.Deleted,
	})

	log.Debug().
		Int64("revision", revision).
		Int("created", len(req.Created)).
		Int("updated", len(req.Updated)).
		Int("deleted", len(req.Deleted)).
		Msg("Flush accepted")

	w.WriteHeader(http.StatusAccepted)
	writeJSONResponse(w, map[string]any{"revision": revision})
}
