package authcore

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/arcwell/authcore/server"
	"github.com/arcwell/authcore/storage"
)

// Handler is a thin HTTP adapter for the authorization server core. It
// parses requests, delegates to the Server, and serializes responses; all
// protocol decisions live in the server package.
//
// The authorize endpoint trusts the X-Authenticated-User header for the
// resource owner's identity. The embedding application authenticates the
// user with its own session machinery and sets the header before routing
// the request here; the endpoint must not be exposed without that front.
type Handler struct {
	server *server.Server
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: srv,
		logger: logger,
	}
}

// RegisterRoutes attaches all endpoints to the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /oauth/authorize", h.HandleAuthorize)
	mux.HandleFunc("POST /oauth/token", h.HandleToken)
	mux.HandleFunc("POST /oauth/introspect", h.HandleIntrospect)
	mux.HandleFunc("POST /oauth/revoke", h.HandleRevoke)
	mux.HandleFunc("POST /oauth/register", h.HandleRegister)
	mux.HandleFunc("GET /oauth/register/{client_id}", h.HandleClientRead)
	mux.HandleFunc("PUT /oauth/register/{client_id}", h.HandleClientUpdate)
	mux.HandleFunc("POST /oauth/register/{client_id}/reset", h.HandleClientReset)
	mux.HandleFunc("DELETE /oauth/register/{client_id}", h.HandleClientDelete)
}

// HandleAuthorize is the back half of the authorization endpoint: the
// embedding application has authenticated the user and rendered consent,
// and posts the approved request here. response_type selects between an
// authorization code and a direct (implicit) token.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidParameter("malformed form body"))
		return
	}

	userID := r.Header.Get("X-Authenticated-User")
	if userID == "" {
		h.writeError(w, server.ErrUnauthorized("no authenticated user"))
		return
	}

	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	audience := r.PostFormValue("audience")
	scopes := splitScope(r.PostFormValue("scope"))
	state := r.PostFormValue("state")

	switch r.PostFormValue("response_type") {
	case ResponseTypeCode:
		code, err := h.server.GrantCode(r.Context(), clientID, userID, redirectURI, scopes, audience)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, &AuthorizationResponse{
			Code:  code.Value,
			Scope: strings.Join(code.Scopes, " "),
			State: state,
		})

	case ResponseTypeToken:
		tok, err := h.server.GrantImplicitToken(r.Context(), clientID, userID, redirectURI, scopes, audience)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, &AuthorizationResponse{
			AccessToken: tok.AccessToken,
			TokenType:   tok.TokenType,
			ExpiresIn:   expiresIn(tok),
			State:       state,
		})

	default:
		h.writeError(w, server.ErrInvalidParameter("response_type must be code or token"))
	}
}

// HandleToken is the token endpoint. It dispatches on grant_type and
// always answers with either a token response or an RFC 6749 error body.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidParameter("malformed form body"))
		return
	}

	clientID, clientSecret := h.clientCredentials(r)

	var (
		tok *oauth2.Token
		err error
	)

	switch r.PostFormValue("grant_type") {
	case GrantTypeAuthorizationCode:
		tok, err = h.server.ExchangeCode(r.Context(),
			r.PostFormValue("code"), clientID, clientSecret, r.PostFormValue("redirect_uri"))

	case GrantTypePassword:
		tok, err = h.server.ExchangePassword(r.Context(),
			clientID, clientSecret,
			r.PostFormValue("username"), r.PostFormValue("password"),
			splitScope(r.PostFormValue("scope")), r.PostFormValue("audience"))

	case GrantTypeClientCredentials:
		tok, err = h.server.ExchangeClientCredentials(r.Context(),
			clientID, clientSecret,
			splitScope(r.PostFormValue("scope")), r.PostFormValue("audience"))

	case GrantTypeRefreshToken:
		tok, err = h.server.ExchangeRefreshToken(r.Context(),
			r.PostFormValue("refresh_token"), clientID, clientSecret)

	default:
		err = server.ErrUnsupportedGrantType("unknown grant_type")
	}

	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    expiresIn(tok),
		RefreshToken: tok.RefreshToken,
	})
}

// HandleIntrospect is the RFC 7662 introspection endpoint. It answers 200
// for every well-formed request; an unusable token is simply inactive.
func (h *Handler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeJSON(w, http.StatusOK, &Introspection{Active: false})
		return
	}
	h.writeJSON(w, http.StatusOK, h.server.Introspect(r.Context(), r.PostFormValue("token")))
}

// HandleRevoke is the RFC 7009 revocation endpoint. Revocation is
// idempotent, so unknown tokens still get a 200.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidParameter("malformed form body"))
		return
	}
	if err := h.server.RevokeToken(r.Context(), r.PostFormValue("token")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleRegister registers a new client and returns its one-time
// credentials.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, server.ErrInvalidParameter("malformed JSON body"))
		return
	}

	client, err := h.server.RegisterClient(r.Context(),
		req.ClientName, req.RedirectURIs, req.HostURI, req.AudienceID, req.Scopes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, &ClientRegistrationResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		HostURI:                 client.HostURI,
		AudienceID:              client.AudienceID,
		Scopes:                  client.Scopes,
		RegistrationAccessToken: client.RegistrationToken,
	})
}

// HandleClientRead returns a client registration without credentials
func (h *Handler) HandleClientRead(w http.ResponseWriter, r *http.Request) {
	client, err := h.server.GetClientInfo(r.Context(), r.PathValue("client_id"), bearerToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, registrationView(client))
}

// HandleClientUpdate applies a partial update to a client registration
func (h *Handler) HandleClientUpdate(w http.ResponseWriter, r *http.Request) {
	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, server.ErrInvalidParameter("malformed JSON body"))
		return
	}

	client, err := h.server.UpdateClientRegistration(r.Context(), r.PathValue("client_id"), bearerToken(r), server.ClientUpdate{
		Name:         req.ClientName,
		RedirectURIs: req.RedirectURIs,
		HostURI:      req.HostURI,
		Scopes:       req.Scopes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, registrationView(client))
}

// HandleClientReset rotates a client's secret and registration token and
// revokes its outstanding tokens. The fresh credentials are returned
// exactly once; the old registration token stops working immediately.
func (h *Handler) HandleClientReset(w http.ResponseWriter, r *http.Request) {
	client, err := h.server.ResetClientSecret(r.Context(), r.PathValue("client_id"), bearerToken(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := registrationView(client)
	resp.ClientSecret = client.Secret
	resp.RegistrationAccessToken = client.RegistrationToken
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleClientDelete removes a client and revokes all its credentials
func (h *Handler) HandleClientDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.server.DeleteClientRegistration(r.Context(), r.PathValue("client_id"), bearerToken(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientCredentials extracts client authentication from HTTP Basic auth,
// falling back to form parameters (RFC 6749 section 2.3.1).
func (h *Handler) clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	protoErr := server.AsError(err)
	h.writeJSON(w, protoErr.Status, &ErrorResponse{
		Error:            protoErr.Code,
		ErrorDescription: protoErr.Description,
	})
}

// bearerToken extracts the credential from an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return ""
}

// splitScope splits a space-delimited scope parameter, tolerating extra
// whitespace. An empty parameter yields nil, not an empty element.
func splitScope(raw string) []string {
	return strings.Fields(raw)
}

// expiresIn converts a token's absolute expiry to the relative seconds the
// wire format wants, clamped at zero.
func expiresIn(tok *oauth2.Token) int64 {
	remaining := time.Until(tok.Expiry)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// registrationView renders a client without its secret material
func registrationView(client *storage.Client) *ClientRegistrationResponse {
	return &ClientRegistrationResponse{
		ClientID:     client.ID,
		ClientName:   client.Name,
		RedirectURIs: client.RedirectURIs,
		HostURI:      client.HostURI,
		AudienceID:   client.AudienceID,
		Scopes:       client.Scopes,
	}
}
