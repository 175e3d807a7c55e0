package server

import (
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/routegate"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
)

// PageData is shared by every HTML page.
type PageData struct {
	AppName  string
	Title    string
	User     *users.User
	Links    []routegate.Link
	HomePath string
	Notice   string
	Error    string

	// Login
	Action string
	Email  string

	// Signup
	Form  users.SignupForm
	Roles []users.RoleType

	// Dashboards and profile
	Section string
	Mobile  string
	Token   *tokenstore.TokenInfo
}

func (s *Server) page(r *http.Request, title string) PageData {
	snap := s.session.Snapshot()
	return PageData{
		AppName:  s.appName,
		Title:    title,
		User:     snap.User,
		Links:    routegate.NavLinks(snap.Role()),
		HomePath: routegate.HomePath(snap.Role()),
	}
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, status int, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		s.log.Error().Err(err).Str("template", tmpl.Name()).Msg("rendering page")
	}
}

func mustParse(name string) *template.Template {
	tmpl, err := ParseTemplate(name)
	if err != nil {
		panic("Failed to parse " + name + " template: " + err.Error())
	}
	return tmpl
}

// LandingHandler renders the public home page.
func (s *Server) LandingHandler() http.HandlerFunc {
	tmpl := mustParse("landing.html")
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusOK, s.page(r, "Welcome"))
	}
}

// LoginPageHandler serves the login form. role restricts which accounts may sign in there.
func (s *Server) LoginPageHandler(action string, role users.RoleType) http.HandlerFunc {
	tmpl := mustParse("login.html")
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.page(r, loginTitle(role))
		data.Action = action
		if r.URL.Query().Get("registered") != "" {
			data.Notice = "Registration successful. Please log in."
		}
		s.render(w, tmpl, http.StatusOK, data)
	}
}

func (s *Server) LoginSubmissionHandler(action string, role users.RoleType) http.HandlerFunc {
	tmpl := mustParse("login.html")
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "400 - Bad Request", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.PostForm.Get("email"))
		password := r.PostForm.Get("password")

		result, err := s.session.LoginAs(r.Context(), email, password, role)
		if err == nil && result.Success {
			http.Redirect(w, r, routegate.HomePath(result.User.Role), http.StatusSeeOther)
			return
		}

		data := s.page(r, loginTitle(role))
		data.Action = action
		data.Email = email
		status := http.StatusUnauthorized
		switch {
		case err != nil:
			data.Error = auth.UserMessage(err)
			status = statusFor(err)
		case result.Msg != "":
			data.Error = result.Msg
		default:
			data.Error = auth.UserMessage(auth.LoginFailedErr)
		}
		s.render(w, tmpl, status, data)
	}
}

func loginTitle(role users.RoleType) string {
	if role == users.RoleNone {
		return "Log in"
	}
	return string(role) + " login"
}

func (s *Server) SignupGetHandler() http.HandlerFunc {
	tmpl := mustParse("signup.html")
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.page(r, "Sign up")
		data.Roles = users.Roles()
		data.Form.Role = users.RolePatient
		s.render(w, tmpl, http.StatusOK, data)
	}
}

// SignupPostHandler validates the form locally, then hands it to the backend.
func (s *Server) SignupPostHandler() http.HandlerFunc {
	tmpl := mustParse("signup.html")
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := signupFormFromRequest(r)
		if err == nil {
			err = form.Validate()
		}
		if err == nil {
			var result *auth.AuthResult
			result, err = s.auth.Signup(r.Context(), form)
			if err == nil && !result.Success {
				err = &auth.ResponseError{Kind: auth.SignupValidationErr, Msg: result.Msg}
			}
		}
		if err == nil {
			http.Redirect(w, r, RouteLogin+"?registered=1", http.StatusSeeOther)
			return
		}

		data := s.page(r, "Sign up")
		data.Roles = users.Roles()
		form.Password = ""
		form.Image = nil
		data.Form = form
		if errors.Is(err, users.SignupFormErr) {
			data.Error = err.Error()
		} else {
			data.Error = auth.UserMessage(err)
		}
		s.render(w, tmpl, statusFor(err), data)
	}
}

func signupFormFromRequest(r *http.Request) (users.SignupForm, error) {
	if err := r.ParseMultipartForm(users.MaxProfileImageBytes + 1<<20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return users.SignupForm{}, &users.FormError{Msg: "the form could not be read"}
	}
	role, _ := users.ParseRole(r.FormValue("role"))
	form := users.SignupForm{
		Email:        strings.TrimSpace(r.FormValue("email")),
		FullName:     strings.TrimSpace(r.FormValue("fullName")),
		Password:     r.FormValue("password"),
		MobileNumber: strings.TrimSpace(r.FormValue("mobileNumber")),
		Role:         role,
		Address:      strings.TrimSpace(r.FormValue("address")),
	}

	file, hdr, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return form, nil
	case err != nil:
		return form, &users.FormError{Msg: "the image could not be read"}
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, users.MaxProfileImageBytes+1))
	if err != nil {
		return form, &users.FormError{Msg: "the image could not be read"}
	}
	form.Image = &users.FileUpload{Filename: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Data: data}
	return form, nil
}

// LogoutHandler always ends the session and returns to the landing page.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.session.Logout(r.Context())
		http.Redirect(w, r, routegate.LandingPath, http.StatusSeeOther)
	}
}

func (s *Server) UnauthorizedHandler() http.HandlerFunc {
	tmpl := mustParse("unauthorized.html")
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusForbidden, s.page(r, "Access denied"))
	}
}

// DashboardHandler renders a role dashboard; {section} selects a sub-page.
func (s *Server) DashboardHandler(title string) http.HandlerFunc {
	tmpl := mustParse("dashboard.html")
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.page(r, title)
		if data.User == nil {
			// Logged out between the gate and here.
			http.Redirect(w, r, routegate.LandingPath, http.StatusSeeOther)
			return
		}
		for _, link := range data.Links {
			if link.Path == r.URL.Path && link.Path != data.HomePath {
				data.Section = link.Name
			}
		}
		s.render(w, tmpl, http.StatusOK, data)
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	tmpl := mustParse("profile.html")
	return func(w http.ResponseWriter, r *http.Request) {
		data := s.page(r, "Profile")
		if data.User == nil {
			http.Redirect(w, r, routegate.LandingPath, http.StatusSeeOther)
			return
		}
		data.Mobile = utils.OrDefault(data.User.MobileNumber, "Not provided")
		if token, ok, err := s.tokens.Get(r.Context()); err == nil && ok {
			data.Token = utils.Ptr(tokenstore.Inspect(token))
		}
		s.render(w, tmpl, http.StatusOK, data)
	}
}

// ProfileReloadHandler re-syncs the user, e.g. after the profile was edited elsewhere.
func (s *Server) ProfileReloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.FetchCurrentUser(r.Context()); err != nil {
			s.log.Info().Err(err).Msg("profile reload failed")
		}
		if s.session.Snapshot().User == nil {
			http.Redirect(w, r, routegate.LandingPath, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, RouteProfile, http.StatusSeeOther)
	}
}

// statusFor maps identity errors onto the status a form page is rendered with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.InvalidCredentialsErr), errors.Is(err, auth.SessionExpiredErr):
		return http.StatusUnauthorized
	case errors.Is(err, auth.RoleDeniedErr):
		return http.StatusForbidden
	case errors.Is(err, auth.RateLimitedErr):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.NetworkErr):
		return http.StatusBadGateway
	case errors.Is(err, auth.SignupValidationErr), errors.Is(err, users.SignupFormErr):
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}
