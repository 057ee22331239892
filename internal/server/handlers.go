package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/form"
	"splat-notifyer/internal/metrics"
	"splat-notifyer/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

var errStaleForm = errors.New("the form was renumbered since it was loaded, reload and retry")

type stateResponse struct {
	SessionID  string             `json:"sessionId"`
	Config     domain.Config      `json:"config"`
	View       form.View          `json:"view"`
	Validation form.Result        `json:"validation"`
	Submit     *form.SubmitResult `json:"submit,omitempty"`
	RuleIndex  int                `json:"ruleIndex,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type pageData struct {
	SessionID string
	View      form.View
	Error     string
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") || isJSONBody(r)
}

func isJSONBody(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// posted holds the fields of an event. Partial is set for JSON bodies, where
// an absent key leaves the field alone; a form post always carries the whole
// section, so there an absent checkbox group means nothing is checked.
type posted struct {
	url.Values
	Partial bool
}

func (p posted) has(key string) bool {
	_, ok := p.Values[key]
	return ok
}

// readPosted reads a urlencoded form body or a flat JSON object whose values
// are strings, numbers, booleans or string arrays. Query parameters are
// included; body fields override them.
func readPosted(w http.ResponseWriter, r *http.Request) (posted, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if !isJSONBody(r) {
		if err := r.ParseForm(); err != nil {
			return posted{}, fmt.Errorf("%w: %w", form.ErrInvalidInput, err)
		}
		return posted{Values: r.Form}, nil
	}

	values := r.URL.Query()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return posted{}, fmt.Errorf("%w: %w", form.ErrInvalidInput, err)
	}
	for key, raw := range body {
		switch v := raw.(type) {
		case string:
			values[key] = []string{v}
		case json.Number:
			values[key] = []string{v.String()}
		case bool:
			values[key] = []string{strconv.FormatBool(v)}
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return posted{}, fmt.Errorf("%w: %s must hold strings", form.ErrInvalidInput, key)
				}
				list = append(list, s)
			}
			values[key] = list
		default:
			return posted{}, fmt.Errorf("%w: unsupported value for %s", form.ErrInvalidInput, key)
		}
	}
	return posted{Values: values, Partial: true}, nil
}

func (s *FormServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", nil); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to render index")
	}
}

func (s *FormServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, err := readPosted(w, r)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}

	sid, err := s.sessions.Create(r.Context(), p.Get("webhookUrl"))
	metrics.ObserveAction("create_session", err)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}

	if wantsJSON(r) {
		s.respondState(w, r, sid, http.StatusCreated, nil, nil, 0)
		return
	}
	http.Redirect(w, r, "/sessions/"+sid, http.StatusSeeOther)
}

func (s *FormServer) handlePage(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	data := pageData{SessionID: sid, Error: r.URL.Query().Get("error")}

	err := s.sessions.Read(r.Context(), sid, func(sess *form.Session) error {
		data.View = sess.View()
		return nil
	})
	if err != nil {
		s.fail(w, r, sid, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "form.html", data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to render form")
	}
}

func (s *FormServer) handleState(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, chi.URLParam(r, "sid"), http.StatusOK, nil, nil, 0)
}

func (s *FormServer) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			sess.SetWebhookURL(p.Get("webhookUrl"))
			return nil
		})
	}
	metrics.ObserveAction("set_webhook", err)
	s.after(w, r, sid, err, nil, 0)
}

// handleCheckWebhook takes the URL field along with the click, as the browser
// reads the input at the moment the button is pressed.
func (s *FormServer) handleCheckWebhook(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	p, err := readPosted(w, r)
	if err != nil {
		s.after(w, r, sid, err, nil, 0)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.RequestTimeout)
	defer cancel()

	err = s.sessions.TryUpdate(ctx, sid, func(sess *form.Session) error {
		if p.has("webhookUrl") {
			sess.SetWebhookURL(p.Get("webhookUrl"))
		}
		return sess.CheckWebhook(ctx)
	})

	switch {
	case err == nil:
		metrics.WebhookChecksTotal.WithLabelValues("valid").Inc()
	case errors.Is(err, form.ErrWebhookCheck), errors.Is(err, form.ErrEmptyWebhook):
		metrics.WebhookChecksTotal.WithLabelValues("rejected").Inc()
		// Rejection is shown as feedback on the page, not as a page error.
		if !wantsJSON(r) {
			err = nil
		}
	default:
		metrics.WebhookChecksTotal.WithLabelValues("error").Inc()
	}
	s.after(w, r, sid, err, nil, 0)
}

// handleAddRule keeps any rule edits posted with the click, then appends a
// rule.
func (s *FormServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	p, err := readPosted(w, r)

	var index int
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := applyPostedRules(sess, p); err != nil {
				return err
			}
			var err error
			index, err = sess.AddRule(nil)
			return err
		})
	}
	metrics.ObserveAction("add_rule", err)
	s.after(w, r, sid, err, nil, index)
}

// handleApplyRules saves every rule section posted by the page.
func (s *FormServer) handleApplyRules(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			return applyPostedRules(sess, p)
		})
	}
	metrics.ObserveAction("apply_rules", err)
	s.after(w, r, sid, err, nil, 0)
}

func (s *FormServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	sid, rid := chi.URLParam(r, "sid"), chi.URLParam(r, "rid")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := applyPostedRules(sess, p); err != nil {
				return err
			}
			if err := checkIndex(p, sess, rid); err != nil {
				return err
			}
			return sess.DeleteRule(rid)
		})
	}
	metrics.ObserveAction("delete_rule", err)
	s.after(w, r, sid, err, nil, 0)
}

// handleUpdateRule applies one rule section. Field names carry the rule number
// the page was rendered with.
func (s *FormServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	sid, rid := chi.URLParam(r, "sid"), chi.URLParam(r, "rid")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := checkIndex(p, sess, rid); err != nil {
				return err
			}
			return applyRuleForm(sess, rid, p)
		})
	}
	metrics.ObserveAction("update_rule", err)
	s.after(w, r, sid, err, nil, 0)
}

// applyPostedRules applies the rule sections posted with an event. The page
// lists them in the repeated "rule" field with an "index-<id>" each, which
// must still match the rule's number. Without that list, every rule whose
// message field was posted is applied.
func applyPostedRules(sess *form.Session, p posted) error {
	ids := p.Values["rule"]
	if len(ids) == 0 {
		for n := 1; n <= sess.RuleCount(); n++ {
			if !p.has(fmt.Sprintf("notificationMessage-%d", n)) {
				continue
			}
			sec, err := sess.SectionAt(n)
			if err != nil {
				return err
			}
			if err := applyRuleForm(sess, sec.ID, p); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rid := range ids {
		want, err := strconv.Atoi(p.Get("index-" + rid))
		if err != nil {
			return fmt.Errorf("%w: missing index for rule %s", form.ErrInvalidInput, rid)
		}
		got, err := sess.RuleIndex(rid)
		if err != nil {
			return fmt.Errorf("%w: rule #%d was removed", errStaleForm, want)
		}
		if got != want {
			return fmt.Errorf("%w: rule is now #%d, page showed #%d", errStaleForm, got, want)
		}
	}
	// Numbers are checked up front so a stale page changes nothing.
	for _, rid := range ids {
		if err := applyRuleForm(sess, rid, p); err != nil {
			return err
		}
	}
	return nil
}

func applyRuleForm(sess *form.Session, rid string, p posted) error {
	n, err := sess.RuleIndex(rid)
	if err != nil {
		return err
	}
	sec, err := sess.SectionAt(n)
	if err != nil {
		return err
	}
	field := func(prefix string) string { return fmt.Sprintf("%s-%d", prefix, n) }
	present := func(key string) bool { return !p.Partial || p.has(key) }

	if key := field("notificationMessage"); present(key) {
		if err := sess.SetMessage(rid, p.Get(key)); err != nil {
			return err
		}
	}
	if key := field("matchType"); present(key) {
		if err := sess.SetMatchType(rid, p.Get(key)); err != nil {
			return err
		}
	}
	if key := field("timeSlot"); present(key) {
		if err := sess.SetTimeSlots(rid, p.Values[key]); err != nil {
			return err
		}
	}

	// Panels shown when the page was rendered are the ones whose fields were posted.
	refs := sess.References()
	for _, modeID := range refs.ModeOrder {
		if !sec.PanelVisible(modeID) {
			continue
		}
		if key := field("map-" + modeID); present(key) {
			want := make(map[string]bool)
			for _, mapID := range p.Values[key] {
				want[mapID] = true
			}
			for _, mapID := range refs.MapOrder {
				if sec.Panels[modeID].SelectedMaps[mapID] != want[mapID] {
					if err := sess.ToggleMap(rid, modeID, mapID); err != nil {
						return err
					}
				}
			}
		}
		if nt := p.Get(field("map-notify-type-" + modeID)); nt != "" {
			if err := sess.SetNotifyType(rid, modeID, nt); err != nil {
				return err
			}
		}
	}

	key := field("battleMode")
	if !present(key) {
		return nil
	}
	selected := make(map[string]bool)
	for _, modeID := range p.Values[key] {
		if !refs.HasMode(modeID) {
			return fmt.Errorf("%w: %s", form.ErrUnknownMode, modeID)
		}
		selected[modeID] = true
	}
	for _, modeID := range refs.ModeOrder {
		if sec.Modes[modeID] != selected[modeID] {
			if err := sess.ToggleMode(rid, modeID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FormServer) handleToggleMode(w http.ResponseWriter, r *http.Request) {
	sid, rid, mode := chi.URLParam(r, "sid"), chi.URLParam(r, "rid"), chi.URLParam(r, "mode")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := checkIndex(p, sess, rid); err != nil {
				return err
			}
			return sess.ToggleMode(rid, mode)
		})
	}
	metrics.ObserveAction("toggle_mode", err)
	s.after(w, r, sid, err, nil, 0)
}

func (s *FormServer) handleToggleMap(w http.ResponseWriter, r *http.Request) {
	sid, rid := chi.URLParam(r, "sid"), chi.URLParam(r, "rid")
	mode, mapID := chi.URLParam(r, "mode"), chi.URLParam(r, "map")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := checkIndex(p, sess, rid); err != nil {
				return err
			}
			return sess.ToggleMap(rid, mode, mapID)
		})
	}
	metrics.ObserveAction("toggle_map", err)
	s.after(w, r, sid, err, nil, 0)
}

func (s *FormServer) handleSetNotifyType(w http.ResponseWriter, r *http.Request) {
	sid, rid, mode := chi.URLParam(r, "sid"), chi.URLParam(r, "rid"), chi.URLParam(r, "mode")
	p, err := readPosted(w, r)
	if err == nil {
		err = s.sessions.Update(r.Context(), sid, func(sess *form.Session) error {
			if err := checkIndex(p, sess, rid); err != nil {
				return err
			}
			return sess.SetNotifyType(rid, mode, p.Get("notifyType"))
		})
	}
	metrics.ObserveAction("set_notify_type", err)
	s.after(w, r, sid, err, nil, 0)
}

// handleSubmit applies the rule sections posted with the click and submits
// the result, so what is sent is what the user sees.
func (s *FormServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	p, err := readPosted(w, r)
	if err != nil {
		s.after(w, r, sid, err, nil, 0)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.RequestTimeout)
	defer cancel()

	var res *form.SubmitResult
	err = s.sessions.TryUpdate(ctx, sid, func(sess *form.Session) error {
		if err := applyPostedRules(sess, p); err != nil {
			return err
		}
		var err error
		res, err = sess.Submit(ctx)
		return err
	})

	switch {
	case err != nil:
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		// The network failure is already in the response panel.
		if !wantsJSON(r) && res != nil {
			err = nil
		}
	case !res.Sent:
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
	case res.OK():
		metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	default:
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
	}
	s.after(w, r, sid, err, res, 0)
}

// checkIndex rejects events posted from a page rendered before a
// renumbering: the "index" field, when present, must match the rule's
// current number.
func checkIndex(p posted, sess *form.Session, rid string) error {
	raw := p.Get("index")
	if raw == "" {
		return nil
	}
	want, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: index %q", form.ErrInvalidInput, raw)
	}
	got, err := sess.RuleIndex(rid)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: rule is now #%d, page showed #%d", errStaleForm, got, want)
	}
	return nil
}

// after finishes an event: JSON clients get the state, browsers are sent back
// to the page.
func (s *FormServer) after(w http.ResponseWriter, r *http.Request, sid string, err error, res *form.SubmitResult, index int) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.fail(w, r, sid, err)
		return
	}
	if wantsJSON(r) {
		s.respondState(w, r, sid, statusFor(err), err, res, index)
		return
	}
	target := "/sessions/" + sid
	if err != nil {
		target += "?error=" + url.QueryEscape(err.Error())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *FormServer) respondState(w http.ResponseWriter, r *http.Request, sid string, status int, cause error, res *form.SubmitResult, index int) {
	resp := stateResponse{SessionID: sid, Submit: res, RuleIndex: index}
	if cause != nil {
		resp.Error = cause.Error()
	}

	err := s.sessions.Read(r.Context(), sid, func(sess *form.Session) error {
		resp.Config = sess.Serialize()
		resp.View = sess.View()
		resp.Validation = sess.Validate()
		return nil
	})
	if err != nil {
		s.fail(w, r, sid, err)
		return
	}
	writeJSON(w, status, resp)
}

func (s *FormServer) fail(w http.ResponseWriter, r *http.Request, sid string, err error) {
	status := statusFor(err)
	ev := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("session_id", sid).Int("status", status).Msg("request failed")

	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	http.Error(w, err.Error(), status)
}
