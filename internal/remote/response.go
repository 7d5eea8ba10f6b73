package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// probabilityTolerance bounds how far a probability pair may stray from 1.
const probabilityTolerance = 0.01

// wireResponse accepts the shapes the scoring service is known to return:
//
//	{"prediction": 1, "probabilities": [0.2, 0.8]}
//	{"status": "success", "data": {"prediction": "Approved", "approval_probability": 0.8, "rejection_probability": 0.2}}
//	{"approvalStatus": "...", "modelOutput": {"prediction": 1, "probabilities": [0.2, 0.8]}}
type wireResponse struct {
	Prediction    json.RawMessage `json:"prediction"`
	Probabilities []float64       `json:"probabilities"`
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	Error         string          `json:"error"`
	Data          *envelopeData   `json:"data"`
	ModelOutput   *wireResponse   `json:"modelOutput"`
}

type envelopeData struct {
	Prediction           string   `json:"prediction"`
	ApprovalProbability  *float64 `json:"approval_probability"`
	RejectionProbability *float64 `json:"rejection_probability"`
}

func malformed(format string, args ...any) error {
	return &StageError{Kind: ErrMalformedResponse, Err: fmt.Errorf(format, args...)}
}

func parseResponse(data []byte) (*Prediction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var w wireResponse
	if err := dec.Decode(&w); err != nil {
		return nil, malformed("decode: %v", err)
	}

	switch {
	case w.Status != "" || w.Data != nil:
		return parseEnvelope(&w)
	case len(w.Probabilities) > 0 || len(w.Prediction) > 0:
		return parseModelOutput(&w)
	case w.ModelOutput != nil:
		return parseModelOutput(w.ModelOutput)
	}
	return nil, malformed("unrecognized response shape")
}

func parseModelOutput(w *wireResponse) (*Prediction, error) {
	var class float64
	if err := json.Unmarshal(w.Prediction, &class); err != nil {
		return nil, malformed("prediction must be 0 or 1")
	}
	if class != 0 && class != 1 {
		return nil, malformed("prediction must be 0 or 1, got %v", class)
	}

	if len(w.Probabilities) != 2 {
		return nil, malformed("expected 2 probabilities, got %d", len(w.Probabilities))
	}
	reject, approve := w.Probabilities[0], w.Probabilities[1]
	if err := checkPair(approve, reject); err != nil {
		return nil, err
	}

	return &Prediction{Approved: class == 1, ApprovalProbability: approve}, nil
}

func parseEnvelope(w *wireResponse) (*Prediction, error) {
	if !strings.EqualFold(w.Status, "success") {
		reason := w.Message
		if reason == "" {
			reason = w.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("status %q", w.Status)
		}
		return nil, &StageError{Kind: ErrNonOKStatus, Err: errors.New(reason)}
	}
	if w.Data == nil || w.Data.ApprovalProbability == nil {
		return nil, malformed("missing approval_probability")
	}

	approve := *w.Data.ApprovalProbability
	reject := 1 - approve
	if w.Data.RejectionProbability != nil {
		reject = *w.Data.RejectionProbability
	}
	if approve > 1 || reject > 1 {
		approve /= 100
		reject /= 100
	}
	if err := checkPair(approve, reject); err != nil {
		return nil, err
	}

	var approved bool
	switch strings.ToLower(strings.TrimSpace(w.Data.Prediction)) {
	case "approved":
		approved = true
	case "rejected":
	case "":
		approved = approve >= 0.5
	default:
		return nil, malformed("unknown prediction %q", w.Data.Prediction)
	}

	return &Prediction{Approved: approved, ApprovalProbability: approve}, nil
}

func checkPair(approve, reject float64) error {
	for _, p := range []float64{approve, reject} {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return malformed("probability %v out of range", p)
		}
	}
	if math.Abs(approve+reject-1) > probabilityTolerance {
		return malformed("probabilities sum to %v", approve+reject)
	}
	return nil
}
