package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func testRecord() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Age:                40,
		Gender:             domain.GenderFemale,
		Education:          domain.EducationMaster,
		AnnualIncome:       120000,
		EmploymentYears:    10,
		HomeOwnership:      domain.HomeOwn,
		LoanAmount:         18000,
		LoanIntent:         domain.IntentPersonal,
		LoanInterestRate:   9.5,
		LoanPercentIncome:  15,
		CreditHistoryYears: 12,
		CreditScore:        780,
		HasPriorDefault:    false,
	}
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(domain.RemoteConfig{URL: url, Timeout: timeout}, WithHTTPClient(&http.Client{}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPredict(t *testing.T) {
	t.Run("SendsWireRecord", func(t *testing.T) {
		var got map[string]any
		var path, contentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			contentType = r.Header.Get("Content-Type")
			json.NewDecoder(r.Body).Decode(&got)
			io.WriteString(w, `{"prediction":1,"probabilities":[0.1,0.9]}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, time.Second)
		if _, err := c.Predict(context.Background(), testRecord()); err != nil {
			t.Fatalf("Predict: %v", err)
		}

		if path != DefaultPath {
			t.Errorf("expected path %s, got %s", DefaultPath, path)
		}
		if contentType != "application/json" {
			t.Errorf("expected JSON content type, got %q", contentType)
		}
		if got["credit_score"] != float64(780) {
			t.Errorf("expected credit_score 780, got %v", got["credit_score"])
		}
		if got["previous_loan_defaults_on_file"] != "No" {
			t.Errorf("expected prior default \"No\", got %v", got["previous_loan_defaults_on_file"])
		}
		if got["loan_percent_income"] != float64(15) {
			t.Errorf("expected loan_percent_income 15, got %v", got["loan_percent_income"])
		}
	})

	t.Run("ModelOutput", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{"prediction":1,"probabilities":[0.18,0.82]}`)
		p, err := newTestClient(t, srv.URL, time.Second).Predict(context.Background(), testRecord())
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if !p.Approved {
			t.Error("expected approved")
		}
		if p.Percent() != 82 {
			t.Errorf("expected 82%%, got %d", p.Percent())
		}
	})

	t.Run("Envelope", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{"status":"success","message":"ok","data":{"prediction":"Rejected","approval_probability":0.35,"rejection_probability":0.65}}`)
		p, err := newTestClient(t, srv.URL, time.Second).Predict(context.Background(), testRecord())
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if p.Approved {
			t.Error("expected rejected")
		}
		if p.Percent() != 35 {
			t.Errorf("expected 35%%, got %d", p.Percent())
		}
	})

	t.Run("EnvelopePercentages", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{"status":"success","data":{"prediction":"Approved","approval_probability":76.4,"rejection_probability":23.6}}`)
		p, err := newTestClient(t, srv.URL, time.Second).Predict(context.Background(), testRecord())
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if !p.Approved || p.Percent() != 76 {
			t.Errorf("expected approved at 76%%, got %+v", p)
		}
	})

	t.Run("NestedModelOutput", func(t *testing.T) {
		srv := serve(t, http.StatusOK, `{"approvalStatus":"Approved","modelOutput":{"prediction":1,"probabilities":[0.3,0.7]}}`)
		p, err := newTestClient(t, srv.URL, time.Second).Predict(context.Background(), testRecord())
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if p.Percent() != 70 {
			t.Errorf("expected 70%%, got %d", p.Percent())
		}
	})
}

func TestPredictFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"ServerError", http.StatusInternalServerError, `{"error":"boom"}`, ErrNonOKStatus},
		{"NotFound", http.StatusNotFound, ``, ErrNonOKStatus},
		{"EnvelopeError", http.StatusOK, `{"status":"error","message":"model not loaded"}`, ErrNonOKStatus},
		{"NotJSON", http.StatusOK, `<html>`, ErrMalformedResponse},
		{"EmptyObject", http.StatusOK, `{}`, ErrMalformedResponse},
		{"BadClass", http.StatusOK, `{"prediction":2,"probabilities":[0.5,0.5]}`, ErrMalformedResponse},
		{"StringClass", http.StatusOK, `{"prediction":"yes","probabilities":[0.5,0.5]}`, ErrMalformedResponse},
		{"OneProbability", http.StatusOK, `{"prediction":1,"probabilities":[0.9]}`, ErrMalformedResponse},
		{"SumTooLarge", http.StatusOK, `{"prediction":1,"probabilities":[0.5,0.6]}`, ErrMalformedResponse},
		{"Negative", http.StatusOK, `{"prediction":0,"probabilities":[1.2,-0.2]}`, ErrMalformedResponse},
		{"EnvelopeMissingData", http.StatusOK, `{"status":"success"}`, ErrMalformedResponse},
		{"EnvelopeUnknownLabel", http.StatusOK, `{"status":"success","data":{"prediction":"Maybe","approval_probability":0.5,"rejection_probability":0.5}}`, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			_, err := newTestClient(t, srv.URL, time.Second).Predict(context.Background(), testRecord())
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}

			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StageError, got %T", err)
			}
			if tt.status != http.StatusOK && se.StatusCode != tt.status {
				t.Errorf("expected status code %d, got %d", tt.status, se.StatusCode)
			}
		})
	}
}

func TestPredictTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Predict(context.Background(), testRecord())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
	if Code(err) != "timeout" {
		t.Errorf("expected code timeout, got %s", Code(err))
	}
}

func TestPredictCallerCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, srv.URL, 5*time.Second).Predict(ctx, testRecord())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestPredictUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, time.Second).Predict(context.Background(), testRecord())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if Code(err) != "unreachable" {
		t.Errorf("expected code unreachable, got %s", Code(err))
	}
}

func TestPredictOversizedBody(t *testing.T) {
	body := `{"prediction":1,"probabilities":[0.1,0.9],"pad":"` + strings.Repeat("x", maxResponseBytes) + `"}`
	srv := serve(t, http.StatusOK, body)

	_, err := newTestClient(t, srv.URL, 5*time.Second).Predict(context.Background(), testRecord())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		url      string
		endpoint string
		wantErr  bool
	}{
		{"http://scorer:8000", "http://scorer:8000/predict", false},
		{"http://scorer:8000/", "http://scorer:8000/predict", false},
		{"https://scorer.example.com/v2/score", "https://scorer.example.com/v2/score", false},
		{"  http://scorer:8000  ", "http://scorer:8000/predict", false},
		{"", "", true},
		{"scorer:8000", "", true},
		{"ftp://scorer", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c, err := NewClient(domain.RemoteConfig{URL: tt.url})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if c.Endpoint() != tt.endpoint {
				t.Errorf("expected %s, got %s", tt.endpoint, c.Endpoint())
			}
			if c.timeout != domain.DefaultRemoteTimeout {
				t.Errorf("expected default timeout, got %v", c.timeout)
			}
		})
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Kind: ErrNonOKStatus, StatusCode: 503, Err: errors.New("unavailable")}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
	if err.Code() != "non_ok_status" {
		t.Errorf("expected non_ok_status, got %s", err.Code())
	}
}
