package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/reportdeck/reportd/pkg/api/store"
	"github.com/reportdeck/reportd/pkg/dbconn"
)

// --- User management ---

// handleListUsers returns all users.
func (s *server) handleListUsers(
	w http.ResponseWriter, r *http.Request,
) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// handleCreateUser creates a new admin-sourced user.
func (s *server) handleCreateUser(
	w http.ResponseWriter, r *http.Request,
) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	if req.Role != "admin" && req.Role != "user" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"role must be \"admin\" or \"user\""})

		return
	}

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(req.Password), bcrypt.DefaultCost,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user := &store.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
		Source:       store.SourceAdmin,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"username already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type updateUserRequest struct {
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// handleUpdateUser updates a user's password and/or role.
func (s *server) handleUpdateUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	}

	// Prevent changing own role.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == user.ID && req.Role != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot change your own role"})

		return
	}

	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(*req.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			s.log.WithError(err).Error("Failed to hash password")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		user.PasswordHash = string(hash)
	}

	if req.Role != nil {
		if *req.Role != "admin" && *req.Role != "user" {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"role must be \"admin\" or \"user\""})

			return
		}

		user.Role = *req.Role
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser removes a user by ID.
func (s *server) handleDeleteUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	// Prevent self-deletion.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == id {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete yourself"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Session management ---

type sessionResponse struct {
	ID        uint   `json:"id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Source    string `json:"source"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// handleListSessions returns all sessions with resolved usernames.
func (s *server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	type userInfo struct {
		Username string
		Source   string
	}

	userMap := make(map[uint]userInfo, len(users))
	for i := range users {
		userMap[users[i].ID] = userInfo{
			Username: users[i].Username,
			Source:   users[i].Source,
		}
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		info := userMap[sessions[i].UserID]
		resp = append(resp, sessionResponse{
			ID:        sessions[i].ID,
			UserID:    sessions[i].UserID,
			Username:  info.Username,
			Source:    info.Source,
			ExpiresAt: sessions[i].ExpiresAt.Format("2006-01-02T15:04:05Z"),
			CreatedAt: sessions[i].CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteSessionByID revokes a session by ID.
func (s *server) handleDeleteSessionByID(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteSessionByID(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Report database connection settings ---

type connectionSettingsResponse struct {
	Driver              string `json:"driver"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Database            string `json:"database"`
	DefinitionsDatabase string `json:"definitions_database"`
	RuntimeDatabase     string `json:"runtime_database"`
	Username            string `json:"username"`
	PasswordSet         bool   `json:"password_set"`
	SSLMode             string `json:"ssl_mode"`
	SQLitePath          string `json:"sqlite_path"`
}

func toConnectionSettingsResponse(
	cs *store.ConnectionSettings,
) connectionSettingsResponse {
	return connectionSettingsResponse{
		Driver:              cs.Driver,
		Host:                cs.Host,
		Port:                cs.Port,
		Database:            cs.Database,
		DefinitionsDatabase: cs.DefinitionsDatabase,
		RuntimeDatabase:     cs.RuntimeDatabase,
		Username:            cs.Username,
		PasswordSet:         cs.Password != "",
		SSLMode:             cs.SSLMode,
		SQLitePath:          cs.SQLitePath,
	}
}

// handleGetConnectionSettings returns the persisted report database
// settings with the password redacted.
func (s *server) handleGetConnectionSettings(
	w http.ResponseWriter, r *http.Request,
) {
	settings, err := s.store.GetConnectionSettings(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to get connection settings")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toConnectionSettingsResponse(settings))
}

type saveConnectionSettingsRequest struct {
	Driver              string  `json:"driver"`
	Host                string  `json:"host"`
	Port                int     `json:"port"`
	Database            string  `json:"database"`
	DefinitionsDatabase string  `json:"definitions_database"`
	RuntimeDatabase     string  `json:"runtime_database"`
	Username            string  `json:"username"`
	Password            *string `json:"password,omitempty"`
	SSLMode             string  `json:"ssl_mode"`
	SQLitePath          string  `json:"sqlite_path"`
}

// handleSaveConnectionSettings replaces the persisted settings. An
// omitted password keeps the stored one, so admins can adjust hosts
// without re-entering credentials.
func (s *server) handleSaveConnectionSettings(
	w http.ResponseWriter, r *http.Request,
) {
	var req saveConnectionSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	switch req.Driver {
	case dbconn.DriverPostgres, dbconn.DriverMySQL, dbconn.DriverSQLite:
	default:
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"driver must be postgres, mysql, or sqlite"})

		return
	}

	existing, err := s.store.GetConnectionSettings(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to get connection settings")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	settings := &store.ConnectionSettings{
		Driver:              req.Driver,
		Host:                req.Host,
		Port:                req.Port,
		Database:            req.Database,
		DefinitionsDatabase: req.DefinitionsDatabase,
		RuntimeDatabase:     req.RuntimeDatabase,
		Username:            req.Username,
		Password:            existing.Password,
		SSLMode:             req.SSLMode,
		SQLitePath:          req.SQLitePath,
	}

	if req.Password != nil {
		settings.Password = *req.Password
	}

	if err := s.store.SaveConnectionSettings(r.Context(), settings); err != nil {
		s.log.WithError(err).Error("Failed to save connection settings")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toConnectionSettingsResponse(settings))
}

type roleProbeResult struct {
	OK       bool   `json:"ok"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleTestConnection probes all three connection roles concurrently
// against the currently persisted settings.
func (s *server) handleTestConnection(
	w http.ResponseWriter, r *http.Request,
) {
	saved, err := s.store.GetConnectionSettings(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to get connection settings")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	settings := toResolverSettings(saved)

	roles := []dbconn.Role{
		dbconn.RoleDefinitions,
		dbconn.RoleRuntime,
		dbconn.RoleAdmin,
	}

	results := make([]roleProbeResult, len(roles))

	g, ctx := errgroup.WithContext(r.Context())

	for i, role := range roles {
		i, role := i, role
		g.Go(func() error {
			results[i] = probeRole(ctx, settings, role)

			return nil
		})
	}

	// Probe errors are reported per role, never as a request failure.
	_ = g.Wait()

	resp := make(map[string]roleProbeResult, len(roles))
	for i, role := range roles {
		resp[role.String()] = results[i]
	}

	writeJSON(w, http.StatusOK, resp)
}

func probeRole(
	ctx context.Context,
	settings dbconn.Settings,
	role dbconn.Role,
) roleProbeResult {
	conn, err := dbconn.OpenWith(ctx, settings, role)
	if err != nil {
		return roleProbeResult{Error: err.Error()}
	}
	defer conn.Close()

	return roleProbeResult{
		OK:       true,
		Database: settings.DatabaseName(role),
	}
}

// handleListDatabases enumerates databases on the configured server
// over an admin-role connection.
func (s *server) handleListDatabases(
	w http.ResponseWriter, r *http.Request,
) {
	conn, err := s.resolver.Open(r.Context(), dbconn.RoleAdmin)
	if err != nil {
		s.writeReportError(w, err)

		return
	}
	defer conn.Close()

	query, err := dbconn.ListDatabasesQuery(conn.Driver)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	rows, err := conn.QueryContext(r.Context(), query)
	if err != nil {
		s.writeReportError(w, fmt.Errorf("listing databases: %w", err))

		return
	}
	defer rows.Close()

	databases := make([]string, 0, 16)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			s.writeReportError(w, fmt.Errorf("listing databases: %w", err))

			return
		}

		databases = append(databases, name)
	}

	if err := rows.Err(); err != nil {
		s.writeReportError(w, fmt.Errorf("listing databases: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

// parseIDParam extracts and validates the {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}

	return uint(id), nil
}
