package httpapi

import "net/http"

// registerAdminRoutes wires the admin-only user management surface:
// every endpoint here requires both a resolved identity and
// is_admin, per the adapter contract's "admin-only endpoints -> 403
// for non-admin" rule.
func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/users/count", s.requireAuth(requireAdmin(s.handleCountUsers)))
	mux.HandleFunc("DELETE /admin/users/{id}", s.requireAuth(requireAdmin(s.handleDeleteUser)))
}

func (s *Server) handleCountUsers(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountUsers()
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not count users"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteUser(id); err != nil {
		writeErr(w, errWith(KindInternal, "could not delete user"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}
