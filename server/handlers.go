package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonrig/cloudca/lib"
	"github.com/jasonrig/cloudca/server/backend"
	"github.com/jasonrig/cloudca/server/metrics"
	"github.com/jasonrig/cloudca/server/signer"
	"github.com/jasonrig/cloudca/sshcert"
)

// application contains the server context shared by the handlers.
type application struct {
	keysigner *signer.KeySigner
	router    *mux.Router
	authtoken string
	provider  string
}

func (a *application) routes() {
	a.router.Methods("POST").Path("/sign").HandlerFunc(a.sign)
	a.router.Methods("GET").Path("/publickey").HandlerFunc(a.publickey)
	a.router.Methods("GET").Path("/healthz").HandlerFunc(a.healthz)
	a.router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
}

func (a *application) sign(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	w.Header().Set("X-Request-Id", reqID)

	if a.authtoken != "" {
		var t string
		if ah := r.Header.Get("Authorization"); ah != "" {
			if len(ah) > 6 && strings.ToUpper(ah[0:7]) == "BEARER " {
				t = ah[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(t), []byte(a.authtoken)) != 1 {
			a.sendError(w, http.StatusUnauthorized, lib.CodeUnauthorized, "invalid auth token")
			return
		}
	}

	req := &lib.SignRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		a.sendError(w, http.StatusBadRequest, lib.CodeValidation, fmt.Sprintf("decoding request: %v", err))
		return
	}

	start := time.Now()
	cert, err := a.keysigner.SignRequest(r.Context(), req)
	metrics.M.SignDuration.WithLabelValues(a.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("[%s] sign failed: %v", reqID, err)
		status, code := errorStatus(err)
		a.sendError(w, status, code, err.Error())
		return
	}

	out, err := cert.AuthorizedKey(cert.KeyID)
	if err != nil {
		log.Printf("[%s] encoding cert failed: %v", reqID, err)
		a.sendError(w, http.StatusInternalServerError, lib.CodeSigningError, err.Error())
		return
	}
	metrics.M.Issued.WithLabelValues(certTypeLabel(cert.CertType)).Inc()
	a.respond(w, http.StatusOK, &lib.SignResponse{
		Status:   "ok",
		Response: out,
		Version:  lib.Version,
	})
}

func (a *application) publickey(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, lib.GetPublicKey(a.keysigner.PublicKey()))
}

func (a *application) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.keysigner.Ready(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok")
}

// errorStatus maps a signing failure onto an HTTP status and client error
// code. Anything unrecognized is reported as a plain signing error.
func errorStatus(err error) (int, string) {
	var validation *lib.ValidationError
	var unsupported *lib.UnsupportedKeyError
	var notFound *backend.KeyNotFoundError
	var unavailable *backend.UnavailableError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, lib.CodeValidation
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, lib.CodeUnsupportedKey
	case errors.As(err, &notFound):
		return http.StatusInternalServerError, lib.CodeKeyNotFound
	case errors.As(err, &unavailable):
		return http.StatusBadGateway, lib.CodeBackendUnavailable
	}
	return http.StatusInternalServerError, lib.CodeSigningError
}

func (a *application) sendError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		metrics.M.Errs.WithLabelValues("server").Inc()
	}
	metrics.M.Rejected.WithLabelValues(code).Inc()
	a.respond(w, status, &lib.SignResponse{
		Status:  "error",
		Error:   &lib.SignError{Code: code, Message: message},
		Version: lib.Version,
	})
}

func (a *application) respond(w http.ResponseWriter, status int, resp *lib.SignResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func certTypeLabel(t uint32) string {
	if t == sshcert.HostCert {
		return lib.CertTypeHost
	}
	return lib.CertTypeUser
}
