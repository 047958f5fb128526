package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"SonicPilot/internal/assistant"
	"SonicPilot/internal/auth"
	xerrors "SonicPilot/internal/errors"
	"SonicPilot/internal/wizard"
)

// actionRequest 是 POST /api/v1/wizards/{flow}/actions 的请求体。
type actionRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := s.assistant.Flows()
	names := make([]string, 0, len(flows))
	for _, flow := range flows {
		names = append(names, string(flow))
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": names})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	key := s.sessionKey(w, r)
	res, err := s.assistant.Current(r.Context(), key, wizard.FlowID(r.PathValue("flow")), identity(r))
	if err != nil {
		s.writeError(w, err, "", nil)
		return
	}
	writeJSON(w, statusFor(res), newWizardResponse(res))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	key := s.sessionKey(w, r)

	var body actionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), "", nil)
		return
	}
	action := strings.TrimSpace(body.Action)
	if action == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "action is required"), "", nil)
		return
	}
	payload, err := stringPayload(body.Payload)
	if err != nil {
		s.writeError(w, err, "", nil)
		return
	}

	res, err := s.assistant.Advance(r.Context(), assistant.Request{
		SessionKey: key,
		Flow:       wizard.FlowID(r.PathValue("flow")),
		Action:     action,
		Payload:    payload,
		Identity:   identity(r),
	})
	if err != nil {
		s.writeError(w, err, action, payload)
		return
	}
	writeJSON(w, statusFor(res), newWizardResponse(res))
}

func (s *Server) handleLaunches(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.assistant.ListLaunches(r.Context(), subject.UserID, limit)
	if err != nil {
		s.writeError(w, err, "", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"launches": records})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	directory := s.assistant.Catalog()
	if directory == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tokens": []any{}})
		return
	}
	limit := s.tokenLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": directory.Top(limit)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

// sessionKey 读取会话 Cookie，缺失或格式错误时签发新的 UUID。
func (s *Server) sessionKey(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return id.String()
		}
	}
	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return key
}

func identity(r *http.Request) assistant.Identity {
	subject := auth.SubjectFromContext(r.Context())
	if subject == nil {
		return assistant.Identity{}
	}
	return assistant.Identity{UserID: subject.UserID, UserName: subject.UserName, WalletID: subject.WalletID}
}

// stringPayload 把请求中的标量值统一转成字符串，数字保持原始精度。
func stringPayload(raw map[string]any) (map[string]string, error) {
	payload := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			payload[key] = v
		case json.Number:
			payload[key] = v.String()
		case bool:
			if v {
				payload[key] = "yes"
			} else {
				payload[key] = "no"
			}
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "payload field "+key+" must be a string, number or boolean")
		}
	}
	return payload, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error, action string, payload map[string]string) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	resp := wizardResponse{
		Type:      string(wizard.ResultFailure),
		Error:     string(code),
		Retryable: xerrors.RetryableError(err),
		Options:   []option{},
	}
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
		resp.Message = err.Error()
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
		resp.Message = err.Error()
	case xerrors.CodeSessionConflict:
		status = http.StatusConflict
		resp.Message = "Your session was updated by another request. Please try again."
	case xerrors.CodeStorageFailure, xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
		resp.Message = "The service is temporarily unavailable. Please try again."
	default:
		resp.Message = "Something went wrong. Please try again."
	}
	if resp.Retryable && action != "" {
		resp.Options = append(resp.Options, option{Label: "Try Again", Action: action, Values: payload})
	}
	resp.Options = append(resp.Options, option{Label: "Start Over", Action: wizard.ActionRestart})
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "code", code, "error", err)
	}
	writeJSON(w, status, resp)
}

func statusFor(res wizard.Result) int {
	if res.Kind == wizard.ResultFailure && res.Code == xerrors.CodeNotFound {
		return http.StatusNotFound
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
