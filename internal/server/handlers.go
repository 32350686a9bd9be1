package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"wallcharge/pkg/auth"
	"wallcharge/pkg/billing"
	"wallcharge/pkg/session"
)

const userCookie = "UserID"

// Cookies far outlive sessions in practice; users bookmark their key URL.
const userCookieLifetime = 1000 * 24 * time.Hour

func (s *Server) setUserCookie(w http.ResponseWriter, userKey string) {
	http.SetCookie(w, &http.Cookie{
		Name:    userCookie,
		Value:   userKey,
		Path:    "/",
		Expires: s.now().Add(userCookieLifetime),
	})
}

// handleRoot resolves the user key from the UserID cookie. Users without one
// are sent through authorization.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(userCookie); err == nil && cookie.Value != "" {
		http.Redirect(w, r, "/"+url.PathEscape(cookie.Value)+"/", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/auth/", http.StatusFound)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	userKey := r.PathValue("userKey")
	if _, err := r.Cookie(userCookie); err != nil {
		// Visiting a key URL on a new browser adopts the key.
		s.setUserCookie(w, userKey)
		http.Redirect(w, r, r.URL.String(), http.StatusFound)
		return
	}

	sess := s.Sessions.Open(userKey)
	now := s.now()
	dateRange := billing.RangeNamed(r.URL.Query().Get("date"), now)

	snapshot, err := s.Cache.Snapshot(r.Context(), sess)
	if err != nil {
		s.renderQueryError(w, r, err)
		return
	}
	events, err := snapshot.Events()
	if err != nil {
		s.renderQueryError(w, r, err)
		return
	}
	devices, err := billing.Aggregate(events, dateRange, r.PathValue("din"), sess)
	if err != nil {
		s.renderQueryError(w, r, err)
		return
	}

	view := buildReportView(userKey, dateRange, devices, now)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, view)
		return
	}
	if err := templates.ExecuteTemplate(w, "charges.html", view); err != nil {
		s.logger.Error("failed to render charges page", zap.Error(err))
	}
}

func (s *Server) renderQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case auth.AuthorizationRequired(err):
		http.Redirect(w, r, "/auth/", http.StatusFound)
	case errors.Is(err, session.ErrCorrupt):
		s.logger.Error("unusable user configuration", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "configuration error")
	default:
		s.logger.Error("charge history fetch failed", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "failed to fetch charge history")
	}
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	state, err := session.NewUserKey()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	view := struct{ RedirectURL string }{RedirectURL: s.Auth.AuthorizationURL(state)}
	if err := templates.ExecuteTemplate(w, "auth_start.html", view); err != nil {
		s.logger.Error("failed to render auth page", zap.Error(err))
	}
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "missing authorization code")
		return
	}
	sess, err := s.Auth.ExchangeCode(r.Context(), s.Sessions, code)
	if err != nil {
		s.logger.Error("code exchange failed", zap.Error(err))
		if auth.AuthorizationRequired(err) {
			writeError(w, r, http.StatusForbidden, "authorization was rejected")
		} else {
			writeError(w, r, http.StatusBadGateway, "authorization server unreachable")
		}
		return
	}
	s.setUserCookie(w, sess.Key)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if s.PublicKeyFile == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	http.ServeFile(w, r, s.PublicKeyFile)
}

// View models shared by the HTML template and the JSON encoding.

type chargeView struct {
	Start         time.Time `json:"start"`
	EnergyAddedWh float64   `json:"energy_added_wh"`
	Cost          float64   `json:"cost"`
}

type deviceView struct {
	Din           string       `json:"din"`
	Nickname      string       `json:"nickname"`
	UnitPrice     float64      `json:"unit_price"`
	TotalEnergyWh float64      `json:"total_energy_wh"`
	TotalCost     float64      `json:"total_cost"`
	Charges       []chargeView `json:"charges"`
}

type reportView struct {
	UserKey    string       `json:"user_key"`
	RangeName  string       `json:"range_name"`
	RangeStart time.Time    `json:"range_start"`
	RangeEnd   time.Time    `json:"range_end"`
	Ranges     []string     `json:"ranges"`
	Devices    []deviceView `json:"devices"`
}

func buildReportView(userKey string, r billing.DateRange, devices map[string]*billing.DeviceAggregate, now time.Time) reportView {
	view := reportView{
		UserKey:    userKey,
		RangeName:  r.Name,
		RangeStart: r.Start,
		RangeEnd:   r.End,
	}
	for _, preset := range billing.Presets(now) {
		view.Ranges = append(view.Ranges, preset.Name)
	}
	for _, device := range devices {
		dv := deviceView{
			Din:           device.Din,
			Nickname:      device.Nickname,
			UnitPrice:     device.UnitPrice,
			TotalEnergyWh: device.TotalEnergyWh,
			TotalCost:     device.TotalCost,
		}
		for _, charge := range device.Charges {
			dv.Charges = append(dv.Charges, chargeView{
				Start:         charge.Start,
				EnergyAddedWh: charge.EnergyAddedWh,
				Cost:          charge.Cost,
			})
		}
		view.Devices = append(view.Devices, dv)
	}
	sort.Slice(view.Devices, func(i, j int) bool { return view.Devices[i].Din < view.Devices[j].Din })
	return view
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": message})
		return
	}
	http.Error(w, message, status)
}
