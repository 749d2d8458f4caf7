package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// maxBodyBytes caps request bodies on callback and create routes.
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid_state"`
	Details string `json:"details,omitempty" example:"The state parameter is invalid or expired"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports each dependency checked by /ready
// @Description Readiness status with per-dependency checks
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// DeleteResponse reports a successful delete
// @Description Delete result
type DeleteResponse struct {
	Success bool  `json:"success" example:"true"`
	Deleted int64 `json:"deleted,omitempty" example:"1"`
}

// ConnectedResponse lists the user's connected providers
// @Description Connected integrations with their categories
type ConnectedResponse struct {
	Integrations []domain.ConnectedIntegration `json:"integrations"`
}

// DatatrailsResponse is the cross-integration datatrail feed
// @Description All datatrail entries for the user, newest first
type DatatrailsResponse struct {
	Datatrails []domain.TypedDatatrail `json:"datatrails"`
}

// ProvidersResponse lists supported providers
// @Description Supported providers and their configuration status
type ProvidersResponse struct {
	Providers []*driving.ProviderListItem `json:"providers"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database, Redis and the task queue
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse  "A dependency is unavailable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Pinger{"database": s.db}
	if s.redisClient != nil {
		checks["redis"] = s.redisClient
	}
	if s.taskQueue != nil {
		checks["queue"] = s.taskQueue
	}

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for name, p := range checks {
		if p == nil {
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// handleWorkerHealth godoc
// @Summary      Worker health
// @Description  Reports the in-process worker's counters and task queue depth
// @Tags         Health
// @Produce      json
// @Success      200  {object}  worker.Health
// @Failure      404  {object}  ErrorResponse  "No worker runs in this process"
// @Failure      503  {object}  worker.Health  "The task queue is unreachable"
// @Router       /health/worker [get]
func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		writeError(w, http.StatusNotFound, "no worker in this process")
		return
	}
	h := s.worker.Health(r.Context())
	status := http.StatusOK
	if !h.QueueHealth {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// handleSwaggerDoc serves the registered OpenAPI document.
func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// Provider endpoints

// handleListProviders godoc
// @Summary      List providers
// @Description  Lists every supported provider and whether its OAuth app is configured
// @Tags         Providers
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ProvidersResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /api/v1/providers [get]
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	items, err := s.providerService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ProvidersResponse{Providers: items})
}

// handleGetProvider godoc
// @Summary      Get provider
// @Description  Returns one provider by enum name or slug
// @Tags         Providers
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(xero)
// @Success      200       {object}  driving.ProviderListItem
// @Failure      400       {object}  ErrorResponse  "Unsupported provider"
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Router       /api/v1/providers/{provider} [get]
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}
	item, err := s.providerService.Get(r.Context(), t)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Connect flow

// handleAuthorize godoc
// @Summary      Start authorization
// @Description  Redirects to the provider's consent page. Query parameters are passed as correlation hints (workspaceId, propertyId, ...). Send Accept: application/json to get the URL instead of a redirect.
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(asana)
// @Success      200       {object}  driving.AuthorizeResponse
// @Success      302       "Redirect to the provider"
// @Failure      400       {object}  ErrorResponse  "Unsupported provider or invalid hints"
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      500       {object}  ErrorResponse  "Provider app not configured"
// @Router       /api/v1/integrations/{provider}/auth [get]
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}

	hints := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 && v[0] != "" {
			hints[k] = v[0]
		}
	}

	resp, err := s.connectService.Authorize(r.Context(), driving.AuthorizeRequest{
		UserID:          userID(r),
		IntegrationType: t,
		Hints:           hints,
	})
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, resp.AuthorizationURL, http.StatusFound)
}

// handleCallback godoc
// @Summary      Complete authorization
// @Description  Receives the provider redirect, exchanges the code and stores the integration. Accepts query parameters, a JSON body or a form body. Redirects to the frontend when one is configured.
// @Tags         Integrations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string                    true   "Provider slug"  example(xero)
// @Param        code      query     string                    false  "Authorization code"
// @Param        state     query     string                    false  "State from the authorization request"
// @Param        request   body      driving.CallbackRequest   false  "Callback parameters"
// @Success      200       {object}  driving.CallbackResponse
// @Success      302       "Redirect to the frontend"
// @Failure      400       {object}  ErrorResponse  "Provider error, missing parameters or invalid state"
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      500       {object}  ErrorResponse  "Provider app not configured"
// @Failure      502       {object}  ErrorResponse  "Provider unavailable"
// @Router       /api/v1/integrations/{provider}/callback [get]
// @Router       /api/v1/integrations/{provider}/callback [post]
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}

	params, err := callbackParams(r)
	if err != nil {
		writeErrorDetails(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	code := params.Get("code")
	if code == "" {
		code = params.Get("oauth_verifier")
	}
	req := driving.CallbackRequest{
		UserID:           userID(r),
		IntegrationType:  t,
		Code:             code,
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
	}
	for _, k := range []string{"code", "state", "error", "error_description"} {
		params.Del(k)
	}
	req.Query = params

	resp, err := s.connectService.Callback(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}

	if s.frontendCallbackURL != "" && !wantsJSON(r) {
		http.Redirect(w, r, frontendRedirect(s.frontendCallbackURL, t), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stored integration

// handleConnectionStatus godoc
// @Summary      Connection status
// @Description  Returns the stored connection status and last fetch outcome
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(stripe)
// @Success      200       {object}  domain.ConnectionStatus
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      404       {object}  ErrorResponse  "Integration not found"
// @Router       /api/v1/integrations/{provider}/fetch-connection-status [get]
func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}
	status, err := s.integrationService.Status(r.Context(), userID(r), t)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleIntegrationData godoc
// @Summary      Integration data
// @Description  Returns the latest metrics snapshot and the datatrails
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(stripe)
// @Success      200       {object}  driving.IntegrationDataResponse
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      404       {object}  ErrorResponse  "Integration not found"
// @Router       /api/v1/integrations/{provider}/fetch-integration-data [get]
func (s *Server) handleIntegrationData(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}
	data, err := s.integrationService.Data(r.Context(), userID(r), t)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleRefreshData godoc
// @Summary      Refresh integration data
// @Description  Schedules a new metrics fetch
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(hubspot)
// @Success      202       {object}  StatusResponse
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      404       {object}  ErrorResponse  "Integration not found"
// @Router       /api/v1/integrations/{provider}/refresh-integration-data [post]
func (s *Server) handleRefreshData(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}
	if _, err := s.integrationService.Status(r.Context(), userID(r), t); err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	if err := s.metricsService.Schedule(r.Context(), userID(r), t); err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: string(domain.FetchStatusPending)})
}

// handleDelete godoc
// @Summary      Delete integration
// @Description  DELETE /api/v1/integrations/{provider}/delete removes the user's integration for a provider. DELETE /api/v1/integrations/records/{id} removes one record by id.
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Param        scope   path      string  true  "Provider slug, or records"
// @Param        target  path      string  true  "delete, or a record id"
// @Success      200     {object}  DeleteResponse
// @Failure      401     {object}  ErrorResponse  "Unauthorized"
// @Failure      404     {object}  ErrorResponse  "Integration not found"
// @Router       /api/v1/integrations/{scope}/{target} [delete]
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope, target := r.PathValue("scope"), r.PathValue("target")

	if scope == "records" {
		if err := s.integrationService.DeleteByID(r.Context(), userID(r), target); err != nil {
			s.writeServiceError(w, "", err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Deleted: 1})
		return
	}

	if target != "delete" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	t, err := domain.ParseIntegrationType(scope)
	if err != nil {
		s.writeServiceError(w, "", err)
		return
	}
	n, err := s.integrationService.Delete(r.Context(), userID(r), t)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Deleted: n})
}

// Cross-integration endpoints

// handleListConnected godoc
// @Summary      Connected integrations
// @Description  Lists the providers the user has connected, with their categories
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ConnectedResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /api/v1/integrations/connected [get]
func (s *Server) handleListConnected(w http.ResponseWriter, r *http.Request) {
	items, err := s.integrationService.ListConnected(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, "", err)
		return
	}
	if items == nil {
		items = []domain.ConnectedIntegration{}
	}
	writeJSON(w, http.StatusOK, ConnectedResponse{Integrations: items})
}

// handleListDatatrails godoc
// @Summary      Datatrails
// @Description  Returns every datatrail entry across the user's integrations, newest first
// @Tags         Integrations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  DatatrailsResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /api/v1/integrations/datatrails [get]
func (s *Server) handleListDatatrails(w http.ResponseWriter, r *http.Request) {
	trails, err := s.integrationService.Datatrails(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, "", err)
		return
	}
	if trails == nil {
		trails = []domain.TypedDatatrail{}
	}
	writeJSON(w, http.StatusOK, DatatrailsResponse{Datatrails: trails})
}

// Provider passthrough

// handleListResource godoc
// @Summary      Read provider resource
// @Description  Reads a provider resource (projects, contacts, invoices, ...) with a fresh access token. Query parameters such as limit are passed through.
// @Tags         Resources
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true   "Provider slug"   example(hubspot)
// @Param        resource  path      string  true   "Resource name"   example(contacts)
// @Param        limit     query     int     false  "Page size"
// @Success      200       {object}  object
// @Failure      400       {object}  ErrorResponse  "Provider rejected the request"
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      404       {object}  ErrorResponse  "Integration or resource not found"
// @Failure      502       {object}  ErrorResponse  "Provider unavailable or token refresh failed"
// @Router       /api/v1/integrations/{provider}/resources/{resource} [get]
func (s *Server) handleListResource(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}
	out, err := s.integrationService.ListResource(r.Context(), userID(r), t, r.PathValue("resource"), r.URL.Query())
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeRawJSON(w, http.StatusOK, out)
}

// handleCreateResource godoc
// @Summary      Create provider resource
// @Description  Creates a provider resource: Asana tasks, HubSpot contacts or Slack messages
// @Tags         Resources
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider slug"  example(slack)
// @Param        resource  path      string  true  "Resource name"  example(messages)
// @Param        request   body      object  true  "Provider-specific payload"
// @Success      201       {object}  object
// @Failure      400       {object}  ErrorResponse  "Invalid body or provider rejected the request"
// @Failure      401       {object}  ErrorResponse  "Unauthorized"
// @Failure      404       {object}  ErrorResponse  "Integration or resource not found"
// @Failure      502       {object}  ErrorResponse  "Provider unavailable or token refresh failed"
// @Router       /api/v1/integrations/{provider}/resources/{resource} [post]
func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	t, ok := pathProvider(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.integrationService.CreateResource(r.Context(), userID(r), t, r.PathValue("resource"), body)
	if err != nil {
		s.writeServiceError(w, t, err)
		return
	}
	writeRawJSON(w, http.StatusCreated, out)
}

// writeServiceError maps a service error onto the HTTP error taxonomy.
// t names the provider in not-found messages and may be empty.
func (s *Server) writeServiceError(w http.ResponseWriter, t domain.IntegrationType, err error) {
	var (
		providerErr *domain.ProviderError
		oauthErr    *driving.OAuthError
	)

	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "unauthorized")

	case errors.Is(err, domain.ErrTokenRefresh):
		s.logger.Warn("token refresh failed", "integration_type", t, "error", err)
		writeError(w, http.StatusBadGateway, domain.ErrTokenRefresh.Error())

	case errors.Is(err, domain.ErrRefreshInProgress):
		writeError(w, http.StatusServiceUnavailable, domain.ErrRefreshInProgress.Error())

	case errors.As(err, &providerErr):
		status := http.StatusBadGateway
		if providerErr.StatusCode >= 400 && providerErr.StatusCode < 500 {
			status = http.StatusBadRequest
		}
		message := providerErr.Provider.DisplayName() + " request failed"
		if errors.As(err, &oauthErr) {
			message = oauthErr.Code
		}
		s.logger.Warn("provider request failed",
			"integration_type", providerErr.Provider,
			"provider_status", providerErr.StatusCode,
		)
		writeErrorDetails(w, status, message, providerErr.Body)

	case errors.As(err, &oauthErr):
		writeErrorDetails(w, http.StatusBadRequest, oauthErr.Code, oauthErr.Description)

	case errors.Is(err, domain.ErrProviderNotConfigured):
		s.logger.Error("provider app not configured", "integration_type", t)
		writeError(w, http.StatusInternalServerError, domain.ErrProviderNotConfigured.Error())

	case errors.Is(err, domain.ErrNotFound):
		message := "integration not found"
		if t != "" {
			message = t.DisplayName() + " " + message
		}
		writeError(w, http.StatusNotFound, message)

	case errors.Is(err, domain.ErrUnsupportedResource):
		writeErrorDetails(w, http.StatusNotFound, domain.ErrUnsupportedResource.Error(), err.Error())

	case errors.Is(err, domain.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, domain.ErrUnsupportedProvider.Error())

	case errors.Is(err, domain.ErrInvalidInput):
		writeErrorDetails(w, http.StatusBadRequest, domain.ErrInvalidInput.Error(), err.Error())

	default:
		s.logger.Error("request failed", "integration_type", t, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Helper functions

func pathProvider(w http.ResponseWriter, r *http.Request) (domain.IntegrationType, bool) {
	t, err := domain.ParseIntegrationType(r.PathValue("provider"))
	if err != nil {
		writeErrorDetails(w, http.StatusBadRequest, domain.ErrUnsupportedProvider.Error(), r.PathValue("provider"))
		return "", false
	}
	return t, true
}

func userID(r *http.Request) string {
	if authCtx := GetAuthContext(r.Context()); authCtx != nil {
		return authCtx.UserID
	}
	return ""
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// callbackParams collects callback parameters from the query string and,
// for POST, from a JSON or form body. Body values win.
func callbackParams(r *http.Request) (url.Values, error) {
	params := r.URL.Query()
	if r.Method != http.MethodPost {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			params[k] = v
		}
	default:
		var body map[string]any
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				params.Set(k, val)
			case json.Number:
				params.Set(k, val.String())
			case bool:
				params.Set(k, strconv.FormatBool(val))
			}
		}
	}
	return params, nil
}

func frontendRedirect(base string, t domain.IntegrationType) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	q := url.Values{}
	q.Set("integration", t.Slug())
	q.Set("status", "connected")
	return fmt.Sprintf("%s%s%s", base, sep, q.Encode())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeErrorDetails(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
