package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"jodi.app/internal/auth"
)

type assignRoleRequest struct {
	Role   string `json:"role"`
	Reason string `json:"reason,omitempty"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
	Reason     string `json:"reason,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type auditLogsResponse struct {
	Logs  []auth.AuditEntry `json:"logs"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// handleAdminUserScoped dispatches /v1/admin/users/{username}/{role|permissions|status}.
func (a *API) handleAdminUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	username := parts[0]
	switch parts[1] {
	case "role":
		a.handleAssignRole(w, r, username)
	case "permissions":
		a.handleUserPermissions(w, r, username)
	case "status":
		a.handleUserStatus(w, r, username)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.ensurePermission(w, r, "roles.assign")
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.AssignRole(a.requestCtx(r), actor, username, req.Role, req.Reason, requestMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "role assigned",
		"username":    user.Username,
		"new_role":    user.RoleName,
		"permissions": auth.RolePermissions(user.RoleName),
	})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, username string) {
	var req permissionRequest
	switch r.Method {
	case http.MethodPost:
		actor, ok := a.ensurePermission(w, r, "permissions.grant")
		if !ok {
			return
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.GrantPermission(a.requestCtx(r), actor, username, req.Permission, req.Reason, requestMeta(r))
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":            "permission granted",
			"username":           user.Username,
			"custom_permissions": user.CustomPermissions,
		})
	case http.MethodDelete:
		actor, ok := a.ensurePermission(w, r, "permissions.revoke")
		if !ok {
			return
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.RevokePermission(a.requestCtx(r), actor, username, req.Permission, req.Reason, requestMeta(r))
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":            "permission revoked",
			"username":           user.Username,
			"custom_permissions": user.CustomPermissions,
		})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.ensurePermission(w, r, "users.update")
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.SetStatus(a.requestCtx(r), actor, username, req.Status, req.Reason, requestMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "status updated",
		"username": user.Username,
		"status":   user.Status,
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, "audit.read"); !ok {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	logs, total, err := a.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if logs == nil {
		logs = []auth.AuditEntry{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, auditLogsResponse{
		Logs:  logs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func parseAuditFilter(r *http.Request) (auth.AuditFilter, error) {
	q := r.URL.Query()
	filter := auth.AuditFilter{
		Username:       strings.TrimSpace(q.Get("username")),
		Action:         strings.TrimSpace(q.Get("action")),
		TargetUsername: strings.TrimSpace(q.Get("target_username")),
	}
	var err error
	if filter.Page, err = parsePositiveInt(q.Get("page"), 1, 1, 1<<30); err != nil {
		return auth.AuditFilter{}, err
	}
	if filter.Limit, err = parsePositiveInt(q.Get("limit"), 50, 1, 100); err != nil {
		return auth.AuditFilter{}, err
	}
	if filter.Start, err = parseTimeParam(q.Get("start")); err != nil {
		return auth.AuditFilter{}, err
	}
	if filter.End, err = parseTimeParam(q.Get("end")); err != nil {
		return auth.AuditFilter{}, err
	}
	return filter, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, &paramError{param: raw}
	}
	return val, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &paramError{param: raw}
	}
	return &t, nil
}

type paramError struct {
	param string
}

func (e *paramError) Error() string {
	return "invalid query parameter value: " + e.param
}
