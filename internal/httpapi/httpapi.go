// Package httpapi implements the controller's northbound HTTP API
// (spec.md C10), grounded on o2-interface.go and traffic-steering-xapp.go
// for routing/handler idiom (gorilla/mux, mux.Vars for path params,
// json.NewEncoder(w).Encode for responses) and on rrm_calls.cc /
// stats_manager_calls.cc from the original controller for the exact
// endpoint surface and request/response shapes.
//
// Every handler marshals its work onto the task-manager thread through
// the supplied command queue rather than touching the RIB or scheduler
// state directly (spec.md §5): HTTP handlers run on their own pool and
// must never race the single scheduler thread.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/protocol"
	"github.com/flexran/rtc/internal/rib"
	"github.com/flexran/rtc/internal/rrm"
)

// Dispatcher marshals a function onto the task-manager thread and blocks
// until it has run, returning whatever error the function produced. The
// command-queue implementation lives in internal/core; httpapi only
// depends on this narrow interface so it can be tested with a synchronous
// stand-in.
type Dispatcher interface {
	Dispatch(correlationID string, fn func() error) error
}

// NetstoreLoader fetches a named resource and pushes it to a base
// station's agents, implemented by internal/loader.Loader. Declared here
// as a narrow interface for the same reason as Dispatcher: httpapi only
// needs these two calls.
type NetstoreLoader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	PushToBS(bsID uint64, name, kind string, payload []byte) error
}

// Server is the controller's northbound HTTP API.
type Server struct {
	rib    *rib.Rib
	rrm    *rrm.App
	loader NetstoreLoader
	disp   Dispatcher
	log    *slog.Logger
	router *mux.Router
	http   *http.Server

	// HandlerTimeout records the per-request budget (10s default). The
	// handlers do not read it: how long a request waits for its
	// dispatched work is bounded by the Dispatcher's own timeout.
	HandlerTimeout time.Duration
}

// NewServer builds a Server and registers all routes. ldr may be nil, in
// which case the netstore passthrough endpoint responds 500 Internal
// Server Error.
func NewServer(r *rib.Rib, rrmApp *rrm.App, ldr NetstoreLoader, disp Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		rib:            r,
		rrm:            rrmApp,
		loader:         ldr,
		disp:           disp,
		log:            log,
		router:         mux.NewRouter(),
		HandlerTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler, for use with httptest or a
// custom http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP server on addr and blocks until it
// returns (normally on Shutdown via ctx cancellation upstream).
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(context.Background())
}

func (s *Server) setupRoutes() {
	r := s.router

	r.HandleFunc("/stats/{type}", s.handleStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats/enb/{id}/{type}", s.handleStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats/enb/{id}", s.handleStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats/enb/{id}/ue/{id_ue}", s.handleUEStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats/ue/{id_ue}", s.handleUEStatsJSON).Methods(http.MethodGet)
	r.HandleFunc("/stats_manager/{type}", s.handleStatsText).Methods(http.MethodGet)
	r.HandleFunc("/stats_manager", s.handleStatsText).Methods(http.MethodGet)

	r.HandleFunc("/stats/conf/enb/{id}", s.handleEnbConfigGet).Methods(http.MethodGet)
	r.HandleFunc("/stats/conf/enb", s.handleEnbConfigGet).Methods(http.MethodGet)

	r.HandleFunc("/conf/enb/{id}", s.handleCellConfigApply).Methods(http.MethodPost)
	r.HandleFunc("/conf/enb", s.handleCellConfigApply).Methods(http.MethodPost)

	r.HandleFunc("/slice/enb/{id}/slice/{slice_id}", s.handleSliceShortForm).Methods(http.MethodPost)
	r.HandleFunc("/slice/enb/{id}/slice/{slice_id}", s.handleSliceRemove).Methods(http.MethodDelete)
	r.HandleFunc("/slice/enb/{id}", s.handleSliceApply).Methods(http.MethodPost)
	r.HandleFunc("/slice/enb/{id}", s.handleSliceRemove).Methods(http.MethodDelete)
	r.HandleFunc("/slice/enb", s.handleSliceApply).Methods(http.MethodPost)

	r.HandleFunc("/ue_slice_assoc/enb/{id}", s.handleUESliceAssoc).Methods(http.MethodPost)
	r.HandleFunc("/ue_slice_assoc/enb/{id}/auto", s.handleAutoUESliceAssoc).Methods(http.MethodPost)
	r.HandleFunc("/ue_slice_assoc/enb/{id}/ue/{rnti_imsi}/slice/{slice_id}", s.handleUESliceAssocShortForm).Methods(http.MethodPost)

	r.HandleFunc("/yaml/{id}", s.handleYAMLPassthrough).Methods(http.MethodPost)
	r.HandleFunc("/yaml", s.handleYAMLPassthrough).Methods(http.MethodPost)

	r.HandleFunc("/netstore/enb/{id}", s.handleNetstorePush).Methods(http.MethodPost)

	r.HandleFunc("/health/alive", s.handleAlive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
}

func pathOrQuery(r *http.Request, name string) string {
	if v, ok := mux.Vars(r)[name]; ok && v != "" {
		return v
	}
	return r.URL.Query().Get(name)
}

func (s *Server) resolveBSID(r *http.Request) (uint64, error) {
	id := pathOrQuery(r, "id")
	if id == "" {
		id = "-1"
	}
	return s.rib.ParseBSID(id)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ce *ctlerr.Error
	status := http.StatusInternalServerError
	msg := err.Error()
	if errors.As(err, &ce) {
		status = ce.Kind.HTTPStatus()
		msg = ce.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) correlationID(r *http.Request) string {
	if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
		return cid
	}
	return uuid.NewString()
}

// handleStatsJSON implements GET /stats[/{type}] (id as an optional query
// parameter) and GET /stats/enb/{id}[/{type}], type in
// {enb_config, mac_stats, all}, mirroring stats_manager_calls.cc's JSON
// surface. When no base station id is given at all, it returns the JSON
// snapshot of every known BS rather than silently defaulting to the
// last-added one.
func (s *Server) handleStatsJSON(w http.ResponseWriter, r *http.Request) {
	typ := pathOrQuery(r, "type")
	if typ == "" {
		typ = "all"
	}

	idStr := pathOrQuery(r, "id")
	if idStr == "" {
		s.handleStatsJSONAllBS(w, typ)
		return
	}
	bsID, err := s.rib.ParseBSID(idStr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body []byte
	switch typ {
	case "mac_stats":
		body, err = s.rib.DumpMACStatsByBSJSON(bsID)
	case "enb_config":
		body, err = s.rib.DumpEnbConfigurationJSON(bsID)
	case "all":
		mac, merr := s.rib.DumpMACStatsByBSJSON(bsID)
		cfg, cerr := s.rib.DumpEnbConfigurationJSON(bsID)
		if merr != nil {
			err = merr
			break
		}
		if cerr != nil {
			err = cerr
			break
		}
		body = []byte(fmt.Sprintf(`{"mac_stats":%s,"enb_config":%s}`, mac, cfg))
	default:
		err = ctlerr.New(ctlerr.KindInvalidArgument, "httpapi", "unknown stats type "+typ, "")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleStatsJSONAllBS serves the fleet-wide branch of GET /stats: every
// known BS's MAC stats and/or eNB configuration, keyed by BS id.
func (s *Server) handleStatsJSONAllBS(w http.ResponseWriter, typ string) {
	var body []byte
	var err error
	switch typ {
	case "mac_stats":
		body, err = s.rib.DumpAllMACStatsJSON()
	case "enb_config":
		body, err = s.rib.DumpAllEnbConfigurationsJSON()
	case "all":
		mac, merr := s.rib.DumpAllMACStatsJSON()
		cfg, cerr := s.rib.DumpAllEnbConfigurationsJSON()
		if merr != nil {
			err = merr
			break
		}
		if cerr != nil {
			err = cerr
			break
		}
		body = []byte(fmt.Sprintf(`{"mac_stats":%s,"enb_config":%s}`, mac, cfg))
	default:
		err = ctlerr.New(ctlerr.KindInvalidArgument, "httpapi", "unknown stats type "+typ, "")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleUEStatsJSON implements GET /stats/ue/{id_ue} and
// GET /stats/enb/{id}/ue/{id_ue}: a single UE's MAC statistics. With an
// enb id, the UE id is resolved as an RNTI or an IMSI. Without an enb id,
// the UE id is parsed as an RNTI only and every known BS is searched.
func (s *Server) handleUEStatsJSON(w http.ResponseWriter, r *http.Request) {
	ueIDStr := pathOrQuery(r, "id_ue")
	if ueIDStr == "" {
		s.writeError(w, ctlerr.New(ctlerr.KindInvalidArgument, "httpapi", "missing ue id", ""))
		return
	}

	idStr := pathOrQuery(r, "id")
	if idStr == "" {
		rnti, err := strconv.ParseUint(ueIDStr, 10, 16)
		if err != nil {
			s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid ue id", "", err))
			return
		}
		body, err := s.rib.DumpUEMACStatsByRNTIJSON(protocol.RNTI(rnti))
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	bsID, err := s.rib.ParseBSID(idStr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rnti, err := s.rib.ParseRNTIOrIMSIString(bsID, ueIDStr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := s.rib.DumpUEMACStatsJSON(bsID, rnti)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleStatsText implements GET /stats_manager/{type}? — the
// human-readable secondary surface.
func (s *Server) handleStatsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(s.rib.DumpAllMACStatsText()))
}

func (s *Server) handleEnbConfigGet(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := s.rib.DumpEnbConfigurationJSON(bsID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return buf, true
}

func (s *Server) dispatchAndRespond(w http.ResponseWriter, r *http.Request, fn func() error) {
	cid := s.correlationID(r)
	err := s.disp.Dispatch(cid, fn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCellConfigApply(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := s.readBody(w, r)
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.ApplyCellConfigPolicy(bsID, body)
	})
}

func (s *Server) handleSliceApply(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := s.readBody(w, r)
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.ApplySliceConfigPolicy(bsID, body)
	})
}

func (s *Server) handleSliceRemove(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body []byte
	if sliceIDStr, ok := mux.Vars(r)["slice_id"]; ok {
		sliceID, perr := strconv.Atoi(sliceIDStr)
		if perr != nil {
			s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid slice id", "", perr))
			return
		}
		body = []byte(fmt.Sprintf(`{"dl":{"slices":[{"id":%d}]},"ul":{"slices":[{"id":%d}]}}`, sliceID, sliceID))
	} else {
		var ok bool
		body, ok = s.readBody(w, r)
		if !ok {
			return
		}
	}
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.RemoveSlice(bsID, body)
	})
}

// handleSliceShortForm implements POST /slice/enb/{id}/slice/{slice_id}:
// creates a slice by copying slice 0's parameters, per rrm_calls.cc's
// short-form creation endpoint.
func (s *Server) handleSliceShortForm(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sliceIDStr := mux.Vars(r)["slice_id"]
	sliceID, perr := strconv.Atoi(sliceIDStr)
	if perr != nil {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid slice id", "", perr))
		return
	}
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.CreateSliceFromTemplate(bsID, sliceID)
	})
}

func (s *Server) handleUESliceAssoc(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := s.readBody(w, r)
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.ChangeUESliceAssociation(bsID, body)
	})
}

// handleUESliceAssocShortForm implements
// POST /ue_slice_assoc/enb/:enb_id/ue/:rnti_imsi/slice/:slice_id: a single
// UE's DL and UL slice association in one call, mirroring
// change_ue_slice_assoc_short by resolving the ambiguous rnti_imsi path
// param and rendering it as the same ueConfig body ChangeUESliceAssociation
// already accepts.
func (s *Server) handleUESliceAssocShortForm(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rnti, err := s.rib.ParseRNTIOrIMSIString(bsID, mux.Vars(r)["rnti_imsi"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	sliceID, perr := strconv.Atoi(mux.Vars(r)["slice_id"])
	if perr != nil {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid slice id", "", perr))
		return
	}
	body := []byte(fmt.Sprintf(`{"ueConfig":[{"rnti":%d,"dlSliceId":%d,"ulSliceId":%d}]}`, rnti, sliceID, sliceID))
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.ChangeUESliceAssociation(bsID, body)
	})
}

type autoAssocRequest struct {
	IMSIPatterns []string `json:"imsiPatterns"`
	DLSliceID    int      `json:"dlSliceId"`
	ULSliceID    int      `json:"ulSliceId"`
}

func (s *Server) handleAutoUESliceAssoc(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := s.readBody(w, r)
	var req autoAssocRequest
	req.DLSliceID, req.ULSliceID = -1, -1
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid auto-association request", "", err))
		return
	}
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.AutoUESliceAssociation(bsID, req.IMSIPatterns, req.DLSliceID, req.ULSliceID)
	})
}

// handleYAMLPassthrough implements the test-only /yaml/{id}? passthrough
// endpoint: the operator-supplied YAML body is parsed and re-serialized
// (round-tripped, not interpreted) before being pushed verbatim to the
// agent as a free-form AgentReconfiguration policy string.
func (s *Server) handleYAMLPassthrough(w http.ResponseWriter, r *http.Request) {
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	raw, _ := s.readBody(w, r)

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid yaml body", "", err))
		return
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "failed to re-serialize yaml body", "", err))
		return
	}

	agentID, ok := s.rib.GetAgentID(bsID)
	if !ok {
		s.writeError(w, ctlerr.New(ctlerr.KindNotFound, "httpapi", "no agent for base station", ""))
		return
	}
	s.dispatchAndRespond(w, r, func() error {
		return s.rrm.PushAgentReconfiguration(agentID, string(out))
	})
}

type netstorePushRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// handleNetstorePush implements POST /netstore/enb/{id}: fetches the
// resource named by the request body from the netstore and hands it to
// the loader's PushToBS (see there for what reaches the agent). The fetch is plain I/O with no RIB state to
// protect, so it runs on the request goroutine; only the final push onto
// the agent connection is marshaled onto the scheduler thread, matching
// every other agent-facing send in this package.
func (s *Server) handleNetstorePush(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		s.writeError(w, ctlerr.New(ctlerr.KindFatal, "httpapi", "netstore loader not configured", ""))
		return
	}
	bsID, err := s.resolveBSID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := s.readBody(w, r)
	var req netstorePushRequest
	if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
		s.writeError(w, ctlerr.Wrap(ctlerr.KindParse, "httpapi", "invalid netstore push request", "", err))
		return
	}

	payload, err := s.loader.Fetch(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.dispatchAndRespond(w, r, func() error {
		return s.loader.PushToBS(bsID, req.Name, req.Kind, payload)
	})
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	s.writeJSON(w, map[string]interface{}{
		"agents": len(s.rib.GetAvailableAgents()),
	})
}
