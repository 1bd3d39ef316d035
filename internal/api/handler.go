package api

import (
	"net/http"
	"strconv"
	"strings"

	"kidstream-ingress/internal/session"
	"kidstream-ingress/internal/stagepool"
)

// IngressAPI aggregates the collaborators the ingress provisioning core's
// HTTP surface depends on, following the teacher's Handler aggregation
// style (internal/api/handlers.go's Handler struct).
type IngressAPI struct {
	Pool         *stagepool.StagePool
	Sessions     *session.Manager
	Region       string
	WhipEndpoint string
	Enabled      bool
}

// NewIngressAPI constructs an IngressAPI with Enabled defaulted to true.
func NewIngressAPI(pool *stagepool.StagePool, sessions *session.Manager, region, whipEndpoint string) *IngressAPI {
	return &IngressAPI{Pool: pool, Sessions: sessions, Region: region, WhipEndpoint: whipEndpoint, Enabled: true}
}

// Whip dispatches POST (startWhip), DELETE (stopWhip), and GET (status) on
// the unauthenticated-status / caller-scoped /streams/whip path.
func (a *IngressAPI) Whip(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.StartWhip(w, r)
	case http.MethodDelete:
		a.StopWhip(w, r)
	case http.MethodGet:
		a.Status(w, r)
	default:
		WriteMethodNotAllowed(w, r, http.MethodPost, http.MethodDelete, http.MethodGet)
	}
}

type startWhipRequest struct {
	ChildID string `json:"childId"`
}

// StartWhip implements startWhip({childId}, caller) → 201.
func (a *IngressAPI) StartWhip(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	var req startWhipRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ChildID) == "" {
		WriteError(w, ValidationError("childId is required"))
		return
	}

	ingest, streamID, err := a.Sessions.ProvisionIngestRealtime(r.Context(), req.ChildID, caller)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newWhipStartResponse(streamID, ingest))
}

type stopWhipRequest struct {
	StreamID string `json:"streamId"`
}

// StopWhip implements stopWhip({streamId}, caller) → 200 / 404.
func (a *IngressAPI) StopWhip(w http.ResponseWriter, r *http.Request) {
	if _, err := requireCaller(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	var req stopWhipRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.StreamID) == "" {
		WriteError(w, ValidationError("streamId is required"))
		return
	}

	arn, found := a.Pool.FindByStreamID(req.StreamID)
	if !found {
		WriteError(w, RequestError{Status: http.StatusNotFound, CodeVal: "NOT_FOUND", Message: "unknown stream"})
		return
	}
	a.Pool.Release(r.Context(), arn)
	WriteJSON(w, http.StatusOK, whipStopResponse{Success: true, StreamID: req.StreamID})
}

// Status implements status() → 200, unauthenticated.
func (a *IngressAPI) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, statusResponse{
		Enabled:          a.Enabled,
		PoolStatus:       newPoolStatusResponse(a.Pool.Status()),
		WhipEndpoint:     a.WhipEndpoint,
		Region:           a.Region,
		MediaConstraints: session.MediaConstraints,
	})
}

const childrenPrefix = "/streams/children/"

// ChildRoute dispatches every /streams/children/{childId}/{action} request,
// mirroring the teacher's manual path-segment parsing (e.g. UploadByID and
// RecordingByID in internal/api/handlers.go) rather than reaching for a
// routing library. Register it once at the childrenPrefix pattern.
func (a *IngressAPI) ChildRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimRight(strings.TrimPrefix(r.URL.Path, childrenPrefix), "/")
	parts := strings.SplitN(rest, "/", 2)
	childID := strings.TrimSpace(parts[0])
	if childID == "" {
		WriteError(w, ValidationError("childId is required"))
		return
	}
	if len(parts) < 2 {
		WriteError(w, RequestError{Status: http.StatusNotFound, CodeVal: "NOT_FOUND", Message: "unknown path"})
		return
	}

	switch parts[1] {
	case "sessions":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.createSession(w, r, childID)
	case "ingest":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.provisionIngest(w, r, childID)
	case "playback":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPlayback(w, r, childID)
	case "vods":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getVods(w, r, childID)
	default:
		WriteError(w, RequestError{Status: http.StatusNotFound, CodeVal: "NOT_FOUND", Message: "unknown path"})
	}
}

func (a *IngressAPI) createSession(w http.ResponseWriter, r *http.Request, childID string) {
	caller, err := requireCaller(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	mode, err := parseIngestMode(r.URL.Query().Get("mode"))
	if err != nil {
		WriteError(w, err)
		return
	}

	sess, ingest, err := a.Sessions.CreateSession(r.Context(), childID, caller, mode)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newCreateSessionResponse(sess, mode, ingest))
}

func (a *IngressAPI) provisionIngest(w http.ResponseWriter, r *http.Request, childID string) {
	caller, err := requireCaller(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	ingest, streamID, err := a.Sessions.ProvisionIngestRealtime(r.Context(), childID, caller)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newWhipStartResponse(streamID, ingest))
}

func (a *IngressAPI) getPlayback(w http.ResponseWriter, r *http.Request, childID string) {
	caller, err := requireCaller(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	mode, err := parsePlaybackMode(r.URL.Query().Get("mode"))
	if err != nil {
		WriteError(w, err)
		return
	}

	playback, status, err := a.Sessions.GetPlayback(r.Context(), caller, childID, mode)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newPlaybackResponse(childID, mode, playback, status))
}

const defaultVodsLimit = 20

func (a *IngressAPI) getVods(w http.ResponseWriter, r *http.Request, childID string) {
	caller, err := requireCaller(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	limit := defaultVodsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			WriteError(w, ValidationError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := a.Sessions.ListVODs(r.Context(), caller, childID, limit, cursor)
	if err != nil {
		WriteError(w, err)
		return
	}

	summaries := make([]sessionSummaryResponse, 0, len(page.Sessions))
	for _, sess := range page.Sessions {
		summaries = append(summaries, newSessionSummaryResponse(sess))
	}
	WriteJSON(w, http.StatusOK, vodsResponse{
		Sessions: summaries,
		Pagination: paginationResponse{
			NextCursor: page.NextCursor,
			HasMore:    page.HasMore,
		},
	})
}

func parseIngestMode(raw string) (session.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "webrtc":
		return session.ModeWebrtc, nil
	case "rtmps":
		return session.ModeRtmps, nil
	default:
		return "", ValidationError("mode must be webrtc or rtmps")
	}
}

func parsePlaybackMode(raw string) (session.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "webrtc":
		return session.ModeWebrtc, nil
	case "hls":
		return session.ModeRtmps, nil
	default:
		return "", ValidationError("mode must be webrtc or hls")
	}
}
