// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"log/slog"
	"net/http"

	"github.com/gameward/gameward/internal/apperror"
	"github.com/gameward/gameward/internal/authtoken"
	"github.com/gameward/gameward/internal/compile"
	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/internal/instance"
	"github.com/gameward/gameward/internal/job"
	"github.com/gameward/gameward/internal/repository"
	"github.com/gameward/gameward/lib/servicetoken"
)

// ServerVersion is reported on the root info route.
const ServerVersion = "1.0.0"

// UserStore looks up global-administrator accounts for the login
// route. internal/store.Store satisfies this.
type UserStore interface {
	GetInstanceUserByName(instanceID, name string) (*domain.InstanceUser, bool)
}

// Server is the controller's HTTP control surface. It holds no
// business logic of its own — every handler validates and marshals,
// then delegates to internal/instance, internal/job, internal/compile,
// internal/repository, or internal/authtoken.
type Server struct {
	instances    *instance.Manager
	jobs         *job.Manager
	compiler     *compile.Manager
	repositories *repository.Manager
	tokens       *authtoken.Service
	users        UserStore
	logger       *slog.Logger
}

// New returns a Server wired to the given subsystems. logger defaults
// to slog.Default() when nil. compiler and repositories may be nil,
// in which case their routes answer 503 — a controller revision that
// never configured a toolchain installer still serves everything
// else.
func New(instances *instance.Manager, jobs *job.Manager, compiler *compile.Manager, repositories *repository.Manager,
	tokens *authtoken.Service, users UserStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		instances: instances, jobs: jobs, compiler: compiler, repositories: repositories,
		tokens: tokens, users: users, logger: logger,
	}
}

// Routes builds the route table. It uses the standard library's
// method+pattern mux syntax rather than a third-party router, since
// none of the example pack pulls one in for this purpose.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleServerInfo)
	mux.HandleFunc("POST /", s.handleLogin)

	mux.HandleFunc("PUT /Instance", s.requireAuth(s.handleCreateOrAttachInstance))
	mux.HandleFunc("POST /Instance", s.requireAuth(s.handleUpdateInstance))
	mux.HandleFunc("GET /Instance/List", s.requireAuth(s.handleListInstances))
	mux.HandleFunc("GET /Instance/{id}", s.requireAuth(s.handleGetInstance))
	mux.HandleFunc("DELETE /Instance/{id}", s.requireAuth(s.handleDetachInstance))

	mux.HandleFunc("POST /Instance/{id}/DreamMaker", s.requireAuth(s.handleCompile))

	mux.HandleFunc("PUT /Instance/{id}/Repository", s.requireAuth(s.handleCloneRepository))
	mux.HandleFunc("POST /Instance/{id}/Repository", s.requireAuth(s.handleUpdateRepository))

	mux.HandleFunc("GET /Job/List", s.requireAuth(s.handleListJobs))
	mux.HandleFunc("GET /Job/{id}", s.requireAuth(s.handleGetJob))
	mux.HandleFunc("DELETE /Job/{id}", s.requireAuth(s.handleCancelJob))

	return mux
}

type serverInfoResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverInfoResponse{Version: ServerVersion})
}

type loginResponse struct {
	Token string `json:"bearer"`
}

// handleLogin authenticates against the reserved global-administrator
// scope and mints a full-access bearer token. Per-instance rights are
// enforced separately, per request, via each InstanceUser's own
// Rights bitmask — this route never looks at those.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, err := basicCredentials(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, ok := s.users.GetInstanceUserByName(domain.GlobalInstanceID, username)
	if !ok || !authtoken.VerifyPassword(user.PasswordHash, password) {
		writeError(w, apperror.Auth("invalid username or password"))
		return
	}

	wire, err := s.tokens.Mint(user.ID, []servicetoken.Grant{{Actions: []string{"*"}, Targets: []string{"*"}}})
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, apperror.CodeNone, "minting token", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: string(wire)})
}

type createOrAttachInstanceRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type instanceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	AutoStart bool      `json:"auto_start"`
	IsAttach  bool      `json:"is_attach,omitempty"`
}

func toInstanceResponse(inst *domain.Instance, isAttach bool) instanceResponse {
	return instanceResponse{
		ID:        inst.ID,
		Name:      inst.Name,
		Path:      inst.Path,
		State:     string(inst.State),
		AutoStart: inst.AutoStart,
		IsAttach:  isAttach,
	}
}

func (s *Server) handleCreateOrAttachInstance(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("no authenticated principal"))
		return
	}

	var req createOrAttachInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inst, isAttach, err := s.instances.CreateOrAttach(r.Context(), instance.CreateOrAttachRequest{
		Name:     req.Name,
		Path:     req.Path,
		CallerID: p.userID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInstanceResponse(inst, isAttach))
}

type updateInstanceRequest struct {
	ID            string `json:"id"`
	Rename        *string `json:"name,omitempty"`
	Relocate      *string `json:"path,omitempty"`
	SetOnline     *bool   `json:"online,omitempty"`
	SetAutoUpdate *bool   `json:"auto_update,omitempty"`
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	var req updateInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		writeError(w, apperror.Validation(apperror.CodeNone, "id is required"))
		return
	}

	if err := requireInstanceRight(r, rightForUpdate(req), req.ID); err != nil {
		writeError(w, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	inst, launchJobID, err := s.instances.Update(r.Context(), req.ID, instance.UpdateRequest{
		Rename:        req.Rename,
		Relocate:      req.Relocate,
		SetOnline:     req.SetOnline,
		SetAutoUpdate: req.SetAutoUpdate,
		CallerID:      p.userID,
		CallerRights:  rightsFromGrants(p.grants, req.ID),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// A launch is a long-running, cancellable job (spec.md §8's
	// Job-cancel scenario): report it the same way every other
	// long-running operation is reported, rather than the instance's
	// not-yet-updated state.
	if launchJobID != "" {
		j, ok := s.jobs.Get(launchJobID)
		if !ok {
			writeError(w, apperror.Gone("launch job vanished immediately after being registered"))
			return
		}
		writeJSON(w, http.StatusAccepted, toJobResponse(j))
		return
	}

	writeJSON(w, http.StatusOK, toInstanceResponse(inst, false))
}

// rightForUpdate is only used to pick a coarse action name for the
// grant check; the fine-grained per-field Rights check still happens
// inside instance.Manager.Update.
func rightForUpdate(req updateInstanceRequest) string {
	return "instance.update"
}

// rightsFromGrants translates a set of servicetoken grants into the
// domain.Rights bitmask instance.Manager.Update expects. The global
// login route mints a wildcard grant, which maps to every bit set, as
// does an "instance.update" grant on the target instance. Any other
// grant set maps to no rights at all; the caller's stored InstanceUser
// rights are not consulted here.
func rightsFromGrants(grants []servicetoken.Grant, targetInstanceID string) domain.Rights {
	if servicetoken.GrantsAllow(grants, "*", targetInstanceID) || servicetoken.GrantsAllow(grants, "instance.update", targetInstanceID) {
		return domain.RightRelocate | domain.RightRename | domain.RightSetOnline |
			domain.RightSetConfig | domain.RightSetAutoUpdate | domain.RightCancelJob |
			domain.RightLaunchSession | domain.RightTerminateSession |
			domain.RightCompile | domain.RightRepository
	}
	return 0
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	insts := s.instances.List()
	out := make([]instanceResponse, 0, len(insts))
	for _, inst := range insts {
		out = append(out, toInstanceResponse(inst, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, ok := s.instances.GetByID(id)
	if !ok {
		writeError(w, apperror.Gone("instance not found"))
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(inst, false))
}

func (s *Server) handleDetachInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := requireInstanceRight(r, "instance.detach", id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.instances.Detach(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// instanceAndPrincipal resolves the path instance and authenticated
// principal a job-scheduling handler needs, or writes the
// corresponding error and reports !ok.
func (s *Server) instanceAndPrincipal(w http.ResponseWriter, r *http.Request) (inst *domain.Instance, callerID string, ok bool) {
	id := r.PathValue("id")
	inst, found := s.instances.GetByID(id)
	if !found {
		writeError(w, apperror.Gone("instance not found"))
		return nil, "", false
	}
	p, authed := principalFromContext(r.Context())
	if !authed {
		writeError(w, apperror.Auth("no authenticated principal"))
		return nil, "", false
	}
	return inst, p.userID, true
}

// writeScheduledJob reports a newly registered job the same way a
// launch job is reported: 202 Accepted with the job resource.
func (s *Server) writeScheduledJob(w http.ResponseWriter, jobID string) {
	j, ok := s.jobs.Get(jobID)
	if !ok {
		writeError(w, apperror.Gone("job vanished immediately after being registered"))
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(j))
}

// handleCompile schedules a compile job for the path instance.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if s.compiler == nil {
		writeError(w, apperror.Transient("compiling is not configured on this controller"))
		return
	}
	inst, callerID, ok := s.instanceAndPrincipal(w, r)
	if !ok {
		return
	}
	if err := requireInstanceRight(r, "instance.compile", inst.ID); err != nil {
		writeError(w, err)
		return
	}

	jobID, err := s.compiler.Schedule(r.Context(), inst, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeScheduledJob(w, jobID)
}

type cloneRepositoryRequest struct {
	OriginURL string `json:"origin_url"`
}

// handleCloneRepository schedules the instance's initial clone.
func (s *Server) handleCloneRepository(w http.ResponseWriter, r *http.Request) {
	if s.repositories == nil {
		writeError(w, apperror.Transient("repository operations are not configured on this controller"))
		return
	}
	inst, callerID, ok := s.instanceAndPrincipal(w, r)
	if !ok {
		return
	}
	if err := requireInstanceRight(r, "instance.repository", inst.ID); err != nil {
		writeError(w, err)
		return
	}

	var req cloneRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inst.Repository.OriginURL = req.OriginURL

	jobID, err := s.repositories.Clone(r.Context(), inst, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeScheduledJob(w, jobID)
}

type mergeTestRevisionRequest struct {
	Number    int    `json:"number"`
	TargetSHA string `json:"target_sha,omitempty"`
}

type updateRepositoryRequest struct {
	Fetch             bool                      `json:"fetch,omitempty"`
	MergeTestRevision *mergeTestRevisionRequest `json:"merge_test_revision,omitempty"`
	MergeOriginBranch string                    `json:"merge_origin_branch,omitempty"`
}

// handleUpdateRepository schedules exactly one repository job per
// call, in order of precedence: a test-merge, then a merge of the
// tracked origin branch, then a plain fetch — matching the single
// job-per-request discipline every other long-running route follows.
func (s *Server) handleUpdateRepository(w http.ResponseWriter, r *http.Request) {
	if s.repositories == nil {
		writeError(w, apperror.Transient("repository operations are not configured on this controller"))
		return
	}
	inst, callerID, ok := s.instanceAndPrincipal(w, r)
	if !ok {
		return
	}
	if err := requireInstanceRight(r, "instance.repository", inst.ID); err != nil {
		writeError(w, err)
		return
	}

	var req updateRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var jobID string
	var err error
	switch {
	case req.MergeTestRevision != nil:
		jobID, err = s.repositories.MergeTestRevision(r.Context(), inst,
			req.MergeTestRevision.Number, req.MergeTestRevision.TargetSHA, callerID)
	case req.MergeOriginBranch != "":
		jobID, err = s.repositories.MergeOrigin(r.Context(), inst, req.MergeOriginBranch, callerID)
	case req.Fetch:
		jobID, err = s.repositories.Fetch(r.Context(), inst, callerID)
	default:
		writeError(w, apperror.Validation(apperror.CodeNone, "request names no repository operation"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeScheduledJob(w, jobID)
}

type jobResponse struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id,omitempty"`
	Description string `json:"description"`
	State       string `json:"state"`
	Progress    int    `json:"progress"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		InstanceID:   j.InstanceID,
		Description:  j.Description,
		State:        string(j.State),
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List(nil)
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, apperror.Gone("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

// jobAuthorizer adapts the request principal into the job package's
// Authorizer interface for cancel requests.
type jobAuthorizer struct {
	grants []servicetoken.Grant
}

func (a jobAuthorizer) HasRight(callerID string, rightType domain.CancelRightType, right domain.Rights) bool {
	return servicetoken.GrantsAllow(a.grants, "*", "*") || servicetoken.GrantsAllow(a.grants, "job.cancel", "*")
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("no authenticated principal"))
		return
	}

	j, err := s.jobs.Cancel(id, p.userID, jobAuthorizer{grants: p.grants})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}
