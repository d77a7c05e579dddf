package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/sirupsen/logrus"

	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
)

const (
	retryBackoffBase = 500 * time.Millisecond
	maxBackoff       = 30 * time.Second
)

// FetchRequest addresses one page of a resource. Path is either relative to
// the API base URL ("repos/octo/hello/commits") or an absolute URL.
// Requests are values: With returns a modified copy.
type FetchRequest struct {
	Path  string
	Query url.Values
}

// With returns a copy of the request with key set to value
func (r FetchRequest) With(key, value string) FetchRequest {
	q := url.Values{}
	for k, v := range r.Query {
		q[k] = append([]string(nil), v...)
	}
	q.Set(key, value)
	return FetchRequest{Path: r.Path, Query: q}
}

func (r FetchRequest) urlString() (string, error) {
	u, err := url.Parse(r.Path)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range r.Query {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Page is the decoded body of one page plus its response metadata
type Page struct {
	Items    []Payload
	Rate     RateStatus
	LastPage int
}

// Fetcher issues single page requests on behalf of a session, rotating
// credentials when the active one is exhausted or running low.
type Fetcher struct {
	threshold int
	backoff   time.Duration
	log       logrus.FieldLogger
}

// NewFetcher creates a fetcher rotating below threshold remaining requests
func NewFetcher(threshold int, log logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		threshold: threshold,
		backoff:   retryBackoffBase,
		log:       log,
	}
}

type failure int

const (
	failTerminal failure = iota
	failRateLimited
	failTransient
	failEmpty
)

// Fetch retrieves one page. The attempt budget is one pass through the
// credential set: every rotation and every transient retry costs an attempt.
// Client errors such as 401 or 404 are returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, s *Session, req FetchRequest) (*Page, error) {
	budget := s.rotator.Len()
	log := f.log.WithField("path", req.Path)

	var lastErr error
	var lastFailure failure

	for attempt := 0; attempt < budget; attempt++ {
		if err := s.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		cred := s.rotator.Current()
		page, err := f.do(ctx, cred, req)
		if err == nil {
			if !page.Rate.Low(f.threshold) {
				return page, nil
			}
			log.WithFields(logrus.Fields{
				"credential": cred.Index + 1,
				"remaining":  page.Rate.Remaining,
				"reset":      page.Rate.Reset.Format(time.RFC3339),
			}).Info("Token limit is low, rotating token")
			s.rotator.RotateFrom(cred)
			lastErr, lastFailure = nil, failRateLimited
			continue
		}

		kind, classified := classify(err, req)
		switch kind {
		case failEmpty:
			return &Page{Rate: page.Rate}, nil
		case failRateLimited:
			log.WithField("credential", cred.Index+1).Warn("Token limit reached, rotating token")
			s.rotator.RotateFrom(cred)
		case failTransient:
			log.WithError(err).WithField("attempt", attempt+1).Warn("Transient error, retrying")
			if attempt+1 < budget {
				if werr := f.sleep(ctx, attempt); werr != nil {
					return nil, werr
				}
			}
		default:
			return nil, classified
		}
		lastErr, lastFailure = err, kind
	}

	if lastFailure == failTransient {
		return nil, apperrors.NewUnavailableError(fmt.Sprintf("GET %s failed after %d attempts", req.Path, budget), lastErr)
	}
	return nil, &apperrors.AppError{
		Code:    apperrors.ErrCodeRateLimited,
		Message: "all tokens have reached the limit",
		Err:     lastErr,
	}
}

func (f *Fetcher) do(ctx context.Context, cred *Credential, req FetchRequest) (*Page, error) {
	client := cred.Client()
	u, err := req.urlString()
	if err != nil {
		return &Page{}, apperrors.NewInternalError("invalid request URL", err)
	}
	httpReq, err := client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return &Page{}, apperrors.NewInternalError("invalid request URL", err)
	}

	var items []Payload
	resp, err := client.Do(ctx, httpReq, &items)
	page := &Page{Rate: rateStatusFrom(resp)}
	if err != nil {
		return page, err
	}
	page.Items = items
	page.LastPage = resp.LastPage
	return page, nil
}

// sleep waits an exponential backoff for the given attempt
func (f *Fetcher) sleep(ctx context.Context, attempt int) error {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * f.backoff
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

// classify sorts a request error into rotate, retry, empty or give up.
// Terminal errors are returned as AppErrors.
func classify(err error, req FetchRequest) (failure, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failTerminal, err
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return failTerminal, err
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return failRateLimited, err
	}

	var tfaErr *github.TwoFactorAuthError
	if errors.As(err, &tfaErr) {
		return failTerminal, &apperrors.AppError{Code: apperrors.ErrCodeUnauthorized, Message: "Invalid or expired token.", Err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			return failRateLimited, err
		case status >= http.StatusInternalServerError:
			return failTransient, err
		case status == http.StatusUnauthorized:
			return failTerminal, &apperrors.AppError{Code: apperrors.ErrCodeUnauthorized, Message: "Invalid or expired token.", Err: err}
		case status == http.StatusForbidden:
			return failTerminal, &apperrors.AppError{Code: apperrors.ErrCodeForbidden, Message: req.Path, Err: err}
		case status == http.StatusNotFound:
			return failTerminal, &apperrors.AppError{Code: apperrors.ErrCodeNotFound, Message: req.Path + " not found", Err: err}
		case status == http.StatusConflict:
			// Git Repository is empty
			return failEmpty, err
		default:
			return failTerminal, &apperrors.AppError{Code: apperrors.ErrCodeBadRequest, Message: fmt.Sprintf("request to %s rejected with status %d", req.Path, status), Err: err}
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return failTerminal, apperrors.NewInternalError("malformed page from "+req.Path, err)
	}

	// transport failures: resets, timeouts, truncated bodies
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return failTransient, err
	}

	return failTerminal, apperrors.NewInternalError("unexpected response from "+req.Path, err)
}
