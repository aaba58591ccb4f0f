package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
	"github.com/openwsm/openwsm/pkg/workspace"
)

// Server is the HTTP API over the workspace service.
type Server struct {
	svc    *workspace.Service
	store  stores.Store
	logger *telemetry.Logger
	http   *http.Server
}

// New creates the API server bound to addr.
func New(addr string, svc *workspace.Service, store stores.Store, tel *telemetry.Telemetry) *Server {
	s := &Server{
		svc:    svc,
		store:  store,
		logger: tel.Logger.NewComponentLogger("http"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/workspaces/{workspace}/cloud-contexts", s.handleCreateCloudContext)
	mux.HandleFunc("DELETE /v1/workspaces/{workspace}/cloud-contexts/{platform}", s.handleDeleteCloudContext)
	mux.HandleFunc("POST /v1/workspaces/{workspace}/resources/controlled", s.handleCreateControlled)
	mux.HandleFunc("POST /v1/workspaces/{workspace}/resources/referenced", s.handleCreateReferenced)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/resources", s.handleListResources)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/resources/{resource}", s.handleGetResource)
	mux.HandleFunc("PATCH /v1/workspaces/{workspace}/resources/{resource}", s.handleUpdateResource)
	mux.HandleFunc("DELETE /v1/workspaces/{workspace}/resources/{resource}", s.handleDeleteResource)
	mux.HandleFunc("GET /v1/flights/{flight}", s.handleGetFlight)
	mux.HandleFunc("POST /v1/flights/{flight}/cancel", s.handleCancelFlight)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks serving HTTP until the listener closes.
func (s *Server) Serve() error {
	s.logger.Infof("listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cloudContextRequest struct {
	Platform resource.CloudPlatform `json:"platform"`
	Context  json.RawMessage        `json:"context"`
}

func (s *Server) handleCreateCloudContext(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	var req cloudContextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.CreateCloudContext(r.Context(), workspaceID, req.Platform, req.Context); err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"platform": string(req.Platform)})
}

func (s *Server) handleDeleteCloudContext(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	deleted, err := s.svc.DeleteCloudContext(r.Context(), workspaceID, resource.CloudPlatform(r.PathValue("platform")))
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

type createResourceRequest struct {
	Name          string                       `json:"name"`
	Description   string                       `json:"description"`
	ResourceType  resource.Type                `json:"resource_type"`
	Cloning       resource.CloningInstructions `json:"cloning_instructions"`
	Properties    map[string]string            `json:"properties"`
	AccessScope   resource.AccessScope         `json:"access_scope"`
	ManagedBy     resource.ManagedBy           `json:"managed_by"`
	AssociatedApp string                       `json:"associated_app"`
	AssignedUser  string                       `json:"assigned_user"`
	Attributes    json.RawMessage              `json:"attributes"`
	Project       string                       `json:"project"`
	Cluster       string                       `json:"cluster"`
}

func (s *Server) handleCreateControlled(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	var req createResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	attrs, err := resource.DecodeAttributes(req.ResourceType, req.Attributes)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	res, flightID, err := s.svc.CreateControlledResource(r.Context(), workspace.CreateControlledResourceRequest{
		WorkspaceID:   workspaceID,
		Name:          req.Name,
		Description:   req.Description,
		Cloning:       req.Cloning,
		Properties:    req.Properties,
		AccessScope:   req.AccessScope,
		ManagedBy:     req.ManagedBy,
		AssociatedApp: req.AssociatedApp,
		AssignedUser:  req.AssignedUser,
		Attributes:    attrs,
		Project:       req.Project,
		Cluster:       req.Cluster,
	})
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeResource(w, http.StatusAccepted, res, flightID)
}

func (s *Server) handleCreateReferenced(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	var req createResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	attrs, err := resource.DecodeAttributes(req.ResourceType, req.Attributes)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	res, err := s.svc.CreateReferencedResource(r.Context(), workspace.CreateReferencedResourceRequest{
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Description: req.Description,
		Cloning:     req.Cloning,
		Properties:  req.Properties,
		Attributes:  attrs,
	})
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeResource(w, http.StatusCreated, res, "")
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	list, err := s.svc.ListResources(r.Context(), workspaceID, limit, offset)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, len(list))
	for _, res := range list {
		encoded, err := resource.Marshal(res)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, encoded)
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": out})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	resourceID, ok := pathUUID(w, r, "resource")
	if !ok {
		return
	}
	res, err := s.svc.GetResource(r.Context(), workspaceID, resourceID)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeResource(w, http.StatusOK, res, "")
}

type updateResourceRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Properties  map[string]string `json:"properties"`
	Attributes  json.RawMessage   `json:"attributes"`
}

func (s *Server) handleUpdateResource(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	resourceID, ok := pathUUID(w, r, "resource")
	if !ok {
		return
	}
	var req updateResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flightID, err := s.svc.UpdateResource(r.Context(), workspace.UpdateResourceRequest{
		WorkspaceID: workspaceID,
		ResourceID:  resourceID,
		Update: stores.ResourceUpdate{
			Name:        req.Name,
			Description: req.Description,
			Properties:  req.Properties,
			Attributes:  req.Attributes,
		},
	})
	if err != nil {
		writeResourceError(w, err)
		return
	}
	status := http.StatusOK
	if flightID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"flight_id": flightID})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := pathUUID(w, r, "workspace")
	if !ok {
		return
	}
	resourceID, ok := pathUUID(w, r, "resource")
	if !ok {
		return
	}
	flightID, err := s.svc.DeleteResource(r.Context(), workspace.DeleteResourceRequest{
		WorkspaceID: workspaceID,
		ResourceID:  resourceID,
		Project:     r.URL.Query().Get("project"),
		Cluster:     r.URL.Query().Get("cluster"),
	})
	if err != nil {
		writeResourceError(w, err)
		return
	}
	status := http.StatusOK
	if flightID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"flight_id": flightID})
}

func (s *Server) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetFlight(r.Context(), r.PathValue("flight"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelFlight(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelFlight(r.Context(), r.PathValue("flight")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s id: %w", key, err))
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func writeResource(w http.ResponseWriter, status int, res *resource.Resource, flightID string) {
	encoded, err := resource.Marshal(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	body := map[string]any{"resource": json.RawMessage(encoded)}
	if flightID != "" {
		body["flight_id"] = flightID
	}
	writeJSON(w, status, body)
}

// writeResourceError maps classified resource errors to HTTP statuses.
func writeResourceError(w http.ResponseWriter, err error) {
	var rerr *resource.Error
	if !errors.As(err, &rerr) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusInternalServerError
	switch rerr.Class {
	case resource.ErrorClassConflict:
		status = http.StatusConflict
	case resource.ErrorClassNotFound:
		status = http.StatusNotFound
	case resource.ErrorClassPrecondition:
		status = http.StatusPreconditionFailed
	case resource.ErrorClassInvariant:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": rerr})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
