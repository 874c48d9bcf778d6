package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jason-s-yu/cluedo/internal/game"
	"github.com/jason-s-yu/cluedo/internal/realtime"
)

// tokenCookie carries the gamer token for browser clients.
const tokenCookie = "auth_token"

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken reads a bearer token, falling back to the auth_token cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return extractCookieToken(r.Header.Get("Cookie"), tokenCookie)
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps a rules engine failure to its HTTP status.
func statusOf(err error) int {
	switch game.CodeOf(err) {
	case game.CodeNotFound:
		return http.StatusNotFound
	case game.CodeGone:
		return http.StatusGone
	case game.CodeForbidden, game.CodeNotInRound:
		return http.StatusForbidden
	case game.CodeVersionConflict, game.CodeAlreadyApplied:
		return http.StatusConflict
	case game.CodeCharacterTaken, game.CodeWrongGamerCount, game.CodeNotInRoomWithPassage:
		return http.StatusUnprocessableEntity
	case game.CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// codeOf is the wire code of err; failures outside the rules engine are INTERNAL.
func codeOf(err error) string {
	if code := game.CodeOf(err); code != "" {
		return string(code)
	}
	return "INTERNAL"
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), realtime.ErrorBody{Code: codeOf(err), Message: err.Error()})
}
