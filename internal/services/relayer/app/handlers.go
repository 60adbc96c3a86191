package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	apperrors "github.com/louisbranch/soropass/internal/platform/errors"
	"github.com/louisbranch/soropass/internal/services/relayer/credential"
	"github.com/louisbranch/soropass/internal/services/relayer/pipeline"
	"github.com/louisbranch/soropass/internal/services/relayer/signer"
	"github.com/louisbranch/soropass/internal/services/relayer/soroban"
	"github.com/stellar/go/xdr"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const maxBodyBytes = 64 * 1024

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/session", h.handleSession)
	mux.HandleFunc("POST /v1/reset", h.handleReset)
	mux.HandleFunc("POST /v1/relayer/reset", h.handleResetRelayer)
	mux.HandleFunc("GET /v1/accounts/options", h.handleCreationOptions)
	mux.HandleFunc("POST /v1/accounts", h.handleRegister)
	mux.HandleFunc("DELETE /v1/accounts", h.handleSignOut)
	mux.HandleFunc("POST /v1/signin", h.handleSignIn)
	mux.HandleFunc("POST /v1/queries", h.handleQuery)
	mux.HandleFunc("POST /v1/invocations", h.handleInvoke)
	mux.HandleFunc("POST /v1/invocations/{id}/assertion", h.handleAssertion)
	mux.HandleFunc("POST /v1/invocations/{id}/cancel", h.handleCancel)
	return mux
}

type sessionView struct {
	Relayer      string `json:"relayer,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	Account      string `json:"account,omitempty"`
}

type registrationView struct {
	CredentialID   string `json:"credentialId"`
	Account        string `json:"account"`
	Salt           string `json:"salt"`
	PublicKey      string `json:"publicKey"`
	Relayer        string `json:"relayer"`
	Deployed       bool   `json:"deployed"`
	TxHash         string `json:"txHash,omitempty"`
	FundingWarning string `json:"fundingWarning,omitempty"`
}

type invokeBody struct {
	ContractID string        `json:"contractId"`
	Function   string        `json:"function"`
	Args       []soroban.Arg `json:"args"`
}

// queryView carries the raw result XDR and, when the type allows, its typed
// JSON form.
type queryView struct {
	Function string       `json:"function"`
	Result   string       `json:"result"`
	Value    *soroban.Arg `json:"value,omitempty"`
}

// ceremonyView is handed to navigator.credentials.get by the browser.
type ceremonyView struct {
	AttemptID string `json:"attemptId"`
	protocol.CredentialAssertion
}

type attemptView struct {
	AttemptID        string           `json:"attemptId"`
	Contract         string           `json:"contractId"`
	Function         string           `json:"function"`
	State            pipeline.State   `json:"state"`
	History          []pipeline.State `json:"history"`
	AuthHash         string           `json:"authHash,omitempty"`
	ExpirationLedger uint32           `json:"expirationLedger,omitempty"`
	TxHash           string           `json:"txHash,omitempty"`
	Error            json.RawMessage  `json:"error,omitempty"`
}

type errorView struct {
	Error json.RawMessage `json:"error"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		Relayer:      session.Relayer,
		CredentialID: session.CredentialID,
		Account:      session.Account,
	})
}

func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleResetRelayer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetRelayer(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleCreationOptions(w http.ResponseWriter, _ *http.Request) {
	options, err := credential.CreationOptions(h.rp, h.userName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.CredentialCreation{Response: options})
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	cred, err := credential.FromCreationResponse(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	registration, err := h.service.Register(r.Context(), cred)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := registrationView{
		CredentialID: registration.CredentialID,
		Account:      registration.Account,
		Salt:         registration.Salt,
		PublicKey:    registration.PublicKey,
		Relayer:      registration.Relayer,
		Deployed:     registration.Deployed,
		TxHash:       registration.TxHash,
	}
	if registration.FundingErr != nil {
		view.FundingWarning = registration.FundingErr.Error()
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	assertion, err := signer.ParseAssertionResponse(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.SignIn(r.Context(), assertion.CredentialID); err != nil {
		h.writeError(w, err)
		return
	}
	h.handleSession(w, r)
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeInvoke(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.service.Query(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	encoded, err := xdr.MarshalBase64(result)
	if err != nil {
		h.writeError(w, fmt.Errorf("encode query result: %w", err))
		return
	}
	view := queryView{Function: req.Function, Result: encoded}
	if value, err := soroban.EncodeArg(result); err == nil {
		view.Value = &value
	}
	writeJSON(w, http.StatusOK, view)
}

// handleInvoke starts an attempt and answers as soon as it either parks on
// a passkey ceremony or ends.
func (h *handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, err := decodeInvoke(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	parked := make(chan *Ceremony, 1)
	done := make(chan invokeResult, 1)
	ctx := WithParked(h.runCtx, parked)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		attempt, err := h.service.Invoke(ctx, req)
		done <- invokeResult{attempt: attempt, err: err}
	}()

	select {
	case ceremony := <-parked:
		h.track(ceremony.AttemptID, done)
		writeJSON(w, http.StatusAccepted, ceremonyView{
			AttemptID:           ceremony.AttemptID,
			CredentialAssertion: protocol.CredentialAssertion{Response: ceremony.Options},
		})
	case result := <-done:
		h.writeResult(w, result)
	case <-r.Context().Done():
		// Nobody is left to answer; cancel the ceremony once it parks.
		go func() {
			select {
			case ceremony := <-parked:
				_ = h.bridge.Cancel(ceremony.AttemptID)
			case <-done:
			}
		}()
	}
}

func (h *handler) handleAssertion(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	assertion, err := signer.ParseAssertionResponse(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	done, ok := h.take(attemptID)
	if !ok {
		h.writeError(w, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no pending attempt %q", attemptID)))
		return
	}
	if err := h.bridge.Answer(attemptID, assertion); err != nil && !errors.Is(err, ErrNoCeremony) {
		h.writeError(w, err)
		return
	}
	h.await(w, r, done)
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")
	done, ok := h.take(attemptID)
	if !ok {
		h.writeError(w, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no pending attempt %q", attemptID)))
		return
	}
	if err := h.bridge.Cancel(attemptID); err != nil && !errors.Is(err, ErrNoCeremony) {
		h.writeError(w, err)
		return
	}
	h.await(w, r, done)
}

func (h *handler) await(w http.ResponseWriter, r *http.Request, done chan invokeResult) {
	select {
	case result := <-done:
		h.writeResult(w, result)
	case <-r.Context().Done():
		// The attempt still finishes and is logged by the pipeline.
	}
}

func (h *handler) writeResult(w http.ResponseWriter, result invokeResult) {
	if result.attempt == nil {
		h.writeError(w, result.err)
		return
	}
	attempt := result.attempt
	view := attemptView{
		AttemptID:        attempt.ID,
		Contract:         attempt.Contract,
		Function:         attempt.Function,
		State:            attempt.State(),
		History:          attempt.History(),
		AuthHash:         attempt.AuthHash(),
		ExpirationLedger: attempt.ExpirationLedger(),
		TxHash:           attempt.TxHash(),
	}
	if result.err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}
	st := apperrors.StatusOf(result.err)
	view.Error = h.statusJSON(st.Proto())
	writeJSON(w, httpStatus(st.Code()), view)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	st := apperrors.StatusOf(err)
	if st.Code() == codes.Internal {
		h.log.WithError(err).Error("request failed")
	}
	writeJSON(w, httpStatus(st.Code()), errorView{Error: h.statusJSON(st.Proto())})
}

func (h *handler) statusJSON(msg proto.Message) json.RawMessage {
	body, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Warn("marshal status")
		return json.RawMessage(`{}`)
	}
	return body
}

// httpStatus maps gRPC status codes to HTTP status codes.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted, codes.Canceled:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "read request body", err)
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "decode request body", err)
	}
	return nil
}

func decodeInvoke(w http.ResponseWriter, r *http.Request) (pipeline.InvokeRequest, error) {
	var body invokeBody
	if err := decodeJSON(w, r, &body); err != nil {
		return pipeline.InvokeRequest{}, err
	}
	args, err := soroban.DecodeArgs(body.Args)
	if err != nil {
		return pipeline.InvokeRequest{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "decode args", err)
	}
	return pipeline.InvokeRequest{Contract: body.ContractID, Function: body.Function, Args: args}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
