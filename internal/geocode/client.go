package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/anupcshan/daytrace/internal/geo"
	"github.com/anupcshan/daytrace/internal/logging"
	"github.com/anupcshan/daytrace/internal/metrics"
)

// Doer is the subset of *http.Client used by Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OutcomeKind classifies the result of one lookup.
type OutcomeKind int

const (
	// Success means the API answered and the answer was decoded.
	Success OutcomeKind = iota
	// Recoverable means the lookup failed in a way that affects only this
	// coordinate. Result holds a sentinel.
	Recoverable
	// Fatal means no further lookups can succeed. Err holds an *APIError.
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return metrics.OutcomeSuccess
	case Recoverable:
		return metrics.OutcomeRecoverable
	case Fatal:
		return metrics.OutcomeFatal
	}
	return "unknown"
}

// Outcome is the result of Client.Lookup.
type Outcome struct {
	Kind   OutcomeKind
	Result GeoResult
	Status int
	Err    error
	// Requests is the number of HTTP requests made, including a retry.
	Requests int
}

// ClientOptions configures a Client. Zero values select defaults.
type ClientOptions struct {
	HTTP              Doer
	Timeout           time.Duration // per request, default 10s
	RetryBackoff      time.Duration // wait before retrying a 429, default 1s
	RequestsPerSecond float64       // 0 means unlimited
	Log               logging.LogFunc
}

// Client performs single reverse-geocoding requests against a Provider.
type Client struct {
	provider Provider
	http     Doer
	timeout  time.Duration
	backoff  time.Duration
	limiter  *rate.Limiter
	log      logging.LogFunc
}

// NewClient creates a Client for provider.
func NewClient(provider Provider, opts ClientOptions) *Client {
	c := &Client{
		provider: provider,
		http:     opts.HTTP,
		timeout:  opts.Timeout,
		backoff:  opts.RetryBackoff,
		log:      opts.Log,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	if c.log == nil {
		c.log = logging.Discard
	}
	return c
}

// Lookup reverse-geocodes one coordinate. A 429 response is retried once
// after the backoff and the retry's status decides the outcome.
//
// The request is detached from ctx cancellation: once started it runs to
// completion or to the per-request timeout.
func (c *Client) Lookup(ctx context.Context, coord geo.Coord) Outcome {
	ctx = context.WithoutCancel(ctx)

	out := c.attempt(ctx, coord)
	if out.Status != http.StatusTooManyRequests {
		return out
	}

	c.log(fmt.Sprintf("Rate limited, retrying in %s...", c.backoff))
	time.Sleep(c.backoff)
	retry := c.attempt(ctx, coord)
	retry.Requests += out.Requests
	return retry
}

func (c *Client) attempt(ctx context.Context, coord geo.Coord) Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return recoverable(0, "error: "+err.Error(), err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.provider.NewRequest(reqCtx, coord)
	if err != nil {
		return recoverable(0, "error: "+err.Error(), err)
	}

	start := time.Now()
	out := c.do(req)
	out.Requests = 1
	outcome := out.Kind.String()
	if out.Status == http.StatusTooManyRequests {
		outcome = metrics.OutcomeRateLimited
	}
	metrics.RecordGeocodeRequest(c.provider.Name(), outcome, time.Since(start))
	return out
}

func (c *Client) do(req *http.Request) Outcome {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(err)
	}

	switch status := resp.StatusCode; {
	case status == http.StatusOK || status == http.StatusAccepted:
		r, err := c.provider.Decode(body)
		if err != nil {
			if status == http.StatusAccepted {
				// Accepted without data
				return recoverable(status, "geocoding failed", err)
			}
			return recoverable(status, "error: "+err.Error(), err)
		}
		return Outcome{Kind: Success, Result: r, Status: status}
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr := &APIError{Provider: c.provider.Name(), Status: status, Message: fatalMessage(status)}
		return Outcome{Kind: Fatal, Status: status, Err: apiErr}
	default:
		return recoverable(status, fmt.Sprintf("api error %d", status), fmt.Errorf("%s returned status %d", c.provider.Name(), status))
	}
}

func recoverable(status int, place string, err error) Outcome {
	return Outcome{Kind: Recoverable, Result: Sentinel(place), Status: status, Err: err}
}

func transportFailure(err error) Outcome {
	if isTimeout(err) {
		return recoverable(0, "timeout", err)
	}
	// url.Error repeats the request URL, which carries the API key.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return recoverable(0, "error: "+err.Error(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
