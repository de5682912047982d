package attest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	// maxCoolDownDuration defines the maximum duration we can wait till firing the next request.
	maxCoolDownDuration = 10 * time.Minute
)

var (
	ErrNotReady        = errors.New("attestation not ready")
	ErrRateLimit       = errors.New("attestation API is being rate limited")
	ErrTimeout         = errors.New("attestation API timed out")
	ErrUnknownResponse = errors.New("unexpected response from attestation API")
)

type Status int

// HTTPClient is the transport the attestation client talks through. It only
// handles the HTTP mechanics (rate limiting, cooldown, timeouts); endpoint
// semantics live in Client.
type HTTPClient interface {
	// Get calls the attestation API with the given path.
	Get(ctx context.Context, path string) ([]byte, Status, error)
}

// httpClient encapsulates the HTTP specifics of the attestation API:
// self-rate-limiting, a cooldown period after a 429, and per-call timeouts.
type httpClient struct {
	lggr       logger.Logger
	apiURL     *url.URL
	apiTimeout time.Duration
	rate       *rate.Limiter
	// coolDownDuration defines the time to wait after getting rate limited.
	// Only used if the 429 response does not carry a Retry-After header.
	coolDownDuration time.Duration
	coolDownUntil    time.Time
	coolDownMu       *sync.RWMutex
}

var (
	clientInstances = make(map[string]HTTPClient)
	instancesMu     sync.Mutex
)

// GetHTTPClient returns a singleton instance of the httpClient for the given
// API URL. Reusing clients matters: being rate limited by the attestation
// service comes with a long cooldown, so we always self-rate-limit first,
// and that only works if every caller shares the limiter.
func GetHTTPClient(
	lggr logger.Logger,
	api string,
	apiInterval time.Duration,
	apiTimeout time.Duration,
	coolDownDuration time.Duration,
) (HTTPClient, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if client, exists := clientInstances[api]; exists {
		return client, nil
	}

	client, err := newHTTPClient(lggr, api, apiInterval, apiTimeout, coolDownDuration)
	if err != nil {
		return nil, err
	}

	clientInstances[api] = client
	return client, nil
}

func newHTTPClient(
	lggr logger.Logger,
	api string,
	apiInterval time.Duration,
	apiTimeout time.Duration,
	coolDownDuration time.Duration,
) (HTTPClient, error) {
	u, err := url.ParseRequestURI(api)
	if err != nil {
		return nil, err
	}
	return &httpClient{
		lggr:             lggr,
		apiURL:           u,
		apiTimeout:       apiTimeout,
		coolDownDuration: coolDownDuration,
		rate:             rate.NewLimiter(rate.Every(apiInterval), 1),
		coolDownMu:       &sync.RWMutex{},
	}, nil
}

func (h *httpClient) Get(ctx context.Context, requestPath string) ([]byte, Status, error) {
	requestURL, err := h.buildRequestURL(requestPath)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	response, httpStatus, err := h.callAPI(ctx, http.MethodGet, requestURL)
	h.lggr.Debugw(
		"Response from attestation API",
		"requestURL", requestURL.String(),
		"status", httpStatus,
		"err", err,
	)
	return response, httpStatus, err
}

// buildRequestURL combines the base API URL with the request path, properly
// handling query parameters.
func (h *httpClient) buildRequestURL(requestPath string) (url.URL, error) {
	requestURL := *h.apiURL

	parsedPath, err := url.Parse(requestPath)
	if err != nil {
		return url.URL{}, err
	}

	requestURL.Path = path.Join(requestURL.Path, parsedPath.Path)
	if parsedPath.RawQuery != "" {
		requestURL.RawQuery = parsedPath.RawQuery
	}

	return requestURL, nil
}

func (h *httpClient) callAPI(ctx context.Context, method string, url url.URL) ([]byte, Status, error) {
	// Terminate immediately when rate limited.
	if coolDown, duration := h.inCoolDownPeriod(); coolDown {
		h.lggr.Errorw(
			"Rate limited by API, dropping all requests",
			"coolDownDuration", duration,
		)
		return nil, http.StatusTooManyRequests, ErrRateLimit
	}

	if h.rate != nil {
		if waitErr := h.rate.Wait(ctx); waitErr != nil {
			h.lggr.Warnw("Self rate-limited, sending too many requests to the API")
			return nil, http.StatusTooManyRequests, ErrRateLimit
		}
	}

	// Guard against the attestation API hanging and eating the whole
	// invocation budget.
	timeoutCtx, cancel := context.WithTimeoutCause(ctx, h.apiTimeout, ErrTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, method, url.String(), nil)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.Header.Add("accept", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, http.StatusRequestTimeout, ErrTimeout
		} else if errors.Is(err, ErrTimeout) || errors.Is(context.Cause(timeoutCtx), ErrTimeout) {
			return nil, http.StatusRequestTimeout, ErrTimeout
		}
		return nil, http.StatusBadRequest, err
	}

	//nolint:errcheck // closing body, error can be ignored here
	defer res.Body.Close()
	status := Status(res.StatusCode)

	if res.StatusCode == http.StatusTooManyRequests {
		h.setCoolDownPeriod(res.Header)
		return nil, status, ErrRateLimit
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, status, ErrNotReady
	}
	if res.StatusCode != http.StatusOK {
		return nil, status, ErrUnknownResponse
	}

	payloadBytes, err := io.ReadAll(res.Body)
	return payloadBytes, status, err
}

func (h *httpClient) setCoolDownPeriod(headers http.Header) {
	coolDownDuration := h.coolDownDuration
	if retryAfterHeader, exists := headers["Retry-After"]; exists && len(retryAfterHeader) > 0 {
		retryAfterSec, errParseInt := strconv.ParseInt(retryAfterHeader[0], 10, 64)
		if errParseInt == nil {
			coolDownDuration = time.Duration(retryAfterSec) * time.Second
		} else {
			parsedTime, err := time.Parse(time.RFC1123, retryAfterHeader[0])
			if err == nil {
				coolDownDuration = time.Until(parsedTime)
			}
		}
	}
	coolDownDuration = min(coolDownDuration, maxCoolDownDuration)
	// Error level: we should always self-rate-limit before hitting the
	// API's limit, so landing here is notable.
	h.lggr.Errorw(
		"Rate limited by the attestation API, setting cool down",
		"coolDownDuration", coolDownDuration,
	)

	h.coolDownMu.Lock()
	defer h.coolDownMu.Unlock()
	h.coolDownUntil = time.Now().Add(coolDownDuration)
}

func (h *httpClient) inCoolDownPeriod() (bool, time.Duration) {
	h.coolDownMu.RLock()
	defer h.coolDownMu.RUnlock()
	return time.Now().Before(h.coolDownUntil), time.Until(h.coolDownUntil)
}
