package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"trustmesh.org/internal/auth"
	"trustmesh.org/internal/stix"
	"trustmesh.org/internal/trust"
	"trustmesh.org/internal/validate"
)

type trustOperationRequest struct {
	Operation string         `json:"operation"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type anonymizeRequest struct {
	OwnerOrg     string      `json:"owner_org"`
	RequesterOrg string      `json:"requester_org"`
	Object       stix.Object `json:"object"`
}

type anonymizeResponse struct {
	Object     stix.Object      `json:"object"`
	Resolution trust.Resolution `json:"resolution"`
}

func (a *API) handleTrustOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req trustOperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Operation)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "operation is required")
		return
	}
	op, err := validate.ParseOperation(name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	// Authenticated identity always wins over whatever the payload claims.
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		req.Data["user"] = userID
	}
	if orgID, ok := auth.OrganizationIDFromContext(r.Context()); ok {
		req.Data["organization"] = orgID
	}

	var outcome *validate.Outcome
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		outcome = a.validator.ValidateTimestamped(r.Context(), op, req.Data, ts, 0)
	} else {
		outcome = a.validator.Validate(r.Context(), op, req.Data)
	}

	a.audit(r.Context(), "trust.operation.validate", map[string]any{
		"operation": string(op),
		"valid":     outcome.Valid,
		"errors":    len(outcome.Errors),
		"warnings":  len(outcome.Warnings),
	})

	code := http.StatusOK
	if !outcome.Valid {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, outcome)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID := a.requestOrganization(r)
	if orgID == "" {
		writeError(w, r, http.StatusBadRequest, "organization is required")
		return
	}
	data, err := a.trust.Dashboard(r.Context(), orgID)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) handleSharingOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID := a.requestOrganization(r)
	if orgID == "" {
		writeError(w, r, http.StatusBadRequest, "organization is required")
		return
	}
	partners, err := a.trust.SharingOrganizations(r.Context(), orgID)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": orgID,
		"organizations":   partners,
		"as_of":           time.Now().UTC(),
	})
}

func (a *API) handleTrustLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	levels, err := a.trust.ListLevels(r.Context())
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (a *API) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req anonymizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.OwnerOrg == "" || len(req.Object) == 0 {
		writeError(w, r, http.StatusBadRequest, "owner_org and object are required")
		return
	}
	requester := strings.TrimSpace(req.RequesterOrg)
	if orgID, ok := auth.OrganizationIDFromContext(r.Context()); ok {
		requester = orgID
	}
	if requester == "" {
		writeError(w, r, http.StatusBadRequest, "requester_org is required")
		return
	}

	obj, res, err := a.trust.AnonymizeForRequester(r.Context(), req.OwnerOrg, requester, req.Object)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}

	a.audit(r.Context(), "intelligence.anonymize", map[string]any{
		"owner_org":     req.OwnerOrg,
		"requester_org": requester,
		"via":           res.Via,
		"level":         string(res.AnonymizationLevel),
	})
	writeJSON(w, http.StatusOK, anonymizeResponse{Object: obj, Resolution: res})
}

// requestOrganization prefers the authenticated organization and falls back
// to the query parameter for unauthenticated setups.
func (a *API) requestOrganization(r *http.Request) string {
	if orgID, ok := auth.OrganizationIDFromContext(r.Context()); ok {
		return orgID
	}
	return strings.TrimSpace(r.URL.Query().Get("organization"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleTrustError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trust.ErrInvalidInput), errors.Is(err, trust.ErrSelfRelationship):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, trust.ErrAlreadyExists), errors.Is(err, trust.ErrAlreadyApproved),
		errors.Is(err, trust.ErrTerminalStatus), errors.Is(err, trust.ErrLastAdministrator),
		errors.Is(err, trust.ErrLevelReferenced):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, trust.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
