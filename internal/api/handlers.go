package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/slok/wavemig/internal/app/taskkill"
	"github.com/slok/wavemig/internal/app/tasklaunch"
	"github.com/slok/wavemig/internal/app/taskprobe"
	"github.com/slok/wavemig/internal/app/taskreset"
	"github.com/slok/wavemig/internal/app/taskrestart"
	"github.com/slok/wavemig/internal/app/taskresult"
	"github.com/slok/wavemig/internal/app/wavecreate"
	"github.com/slok/wavemig/internal/app/wavelist"
	"github.com/slok/wavemig/internal/app/wavestatus"
	"github.com/slok/wavemig/internal/model"
)

func (s *Server) handleCreateWave(w http.ResponseWriter, r *http.Request) {
	var body createWaveRequestJSON
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	wave, err := s.cfg.WaveCreate.Run(r.Context(), wavecreate.Request{
		Name:             body.Name,
		WorkspaceID:      body.WorkspaceID,
		WorkspaceName:    body.WorkspaceName,
		Members:          body.Members,
		ConcurrencyLimit: body.ConcurrencyLimit,
		ManualMode:       body.ManualMode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, mapWaveToJSON(*wave))
}

func (s *Server) handleListWaves(w http.ResponseWriter, r *http.Request) {
	waves, err := s.cfg.WaveList.Run(r.Context(), wavelist.Request{Status: model.WaveStatus(r.URL.Query().Get("status"))})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]waveJSON, 0, len(waves))
	for _, wave := range waves {
		resp = append(resp, mapWaveToJSON(wave))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWaveStatus(w http.ResponseWriter, r *http.Request) {
	details, err := s.cfg.WaveStatus.Run(r.Context(), wavestatus.Request{WaveID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := waveDetailsJSON{
		Wave:  mapWaveToJSON(details.Wave),
		Tasks: make([]taskJSON, 0, len(details.Tasks)),
	}
	for _, t := range details.Tasks {
		tj := mapTaskToJSON(t)
		if p, ok := details.Probes[t.SourceID]; ok {
			pj := mapProbeToJSON(p)
			tj.Probe = &pj
		}
		resp.Tasks = append(resp.Tasks, tj)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.TaskRestart.Run(r.Context(), taskrestart.Request{
		WaveID:   r.PathValue("id"),
		SourceID: r.PathValue("source"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, restartJSON{Wave: mapWaveToJSON(res.Wave), Task: mapTaskToJSON(res.Task)})
}

func (s *Server) handleLaunchTask(w http.ResponseWriter, r *http.Request) {
	var body launchTaskRequestJSON
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	task, err := s.cfg.TaskLaunch.Run(r.Context(), tasklaunch.Request{
		SourceID:    body.SourceID,
		TargetID:    body.TargetID,
		WorkspaceID: body.WorkspaceID,
		Params:      body.Params,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, mapTaskToJSON(*task))
}

func (s *Server) handleProbeTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.TaskProbe.Run(r.Context(), taskprobe.Request{
		SourceID: r.PathValue("source"),
		TargetID: r.PathValue("target"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, mapProbeToJSON(*res))
}

func (s *Server) handleKillTask(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		f, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("invalid force value %q: %w", v, model.ErrNotValid))
			return
		}
		force = f
	}

	res, err := s.cfg.TaskKill.Run(r.Context(), taskkill.Request{
		SourceID: r.PathValue("source"),
		TargetID: r.PathValue("target"),
		Force:    force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, killJSON{Killed: res.Killed, PID: res.PID})
}

func (s *Server) handleResetTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.TaskReset.Run(r.Context(), taskreset.Request{
		SourceID: r.PathValue("source"),
		TargetID: r.PathValue("target"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, mapResetToJSON(*res))
}

// handleWebhookResult receives the worker callbacks. The task identity comes on the query and
// falls back to the payload fields.
func (s *Server) handleWebhookResult(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if err := decodeBody(r, &payload, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	id := func(key string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		switch v := payload[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return ""
	}

	res, err := s.cfg.TaskResult.Run(r.Context(), taskresult.Request{
		SourceID: id("sourceProjectId"),
		TargetID: id("targetProjectId"),
		WaveID:   id("waveId"),
		Payload:  payload,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resultJSON{
		SourceID: res.SourceID,
		TargetID: res.TargetID,
		WaveID:   res.WaveID,
		Status:   string(res.Status),
		Error:    res.Error,
	})
}
