// client.go contains the logic for holding an authenticated session with a
// moodle instance, it does not know anything about courses.

package moodle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"moodledl/internal/components/assert"
	"moodledl/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/moodle")

const (
	report_client_login_username_password = "client.login-username-password"
	report_client_fetch_course            = "client.fetch-course"
	report_client_download_archive        = "client.download-archive"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrMissingCredentials = errors.New("username and password are required")
	ErrAuthRequired       = errors.New("session is not logged in")
	ErrUnparsable         = errors.New("could not parse course page")
	ErrInvalidUrl         = errors.New("course url must be an absolute url")
)

// HttpStatusError is returned when moodle responds with a non-2xx status.
type HttpStatusError struct {
	Code int
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

type Credentials struct {
	Username string
	Password string
}

type ClientOptions struct {
	BaseUrl string
	// RequestsPerSecond limits the rate of requests, 0 means no limit.
	RequestsPerSecond float64
	// RequestTimeout bounds every page request, 0 means no timeout.
	RequestTimeout time.Duration
	// DownloadTimeout bounds an archive download, 0 means no timeout.
	DownloadTimeout time.Duration
	// MessageOutput receives every http exchange if set.
	MessageOutput telemetry.MessageOutput
	Telemetry     telemetry.API
}

// Client is a moodle session, it is safe for concurrent use.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts       ClientOptions
	tel        telemetry.API
	instrument telemetry.RestyInstrument

	mutex   sync.Mutex
	sesskey string
}

func NewClient(opts ClientOptions) (*Client, error) {
	assert.NotNil(opts.Telemetry)

	tel := telemetry.NewScopedAPI("moodle_scraper", opts.Telemetry)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if !baseUrl.IsAbs() || baseUrl.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidUrl, opts.BaseUrl)
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(baseUrl.String(), "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))

	if opts.RequestsPerSecond > 0 {
		// burst >= 1 just means that no requests will be dropped
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	instrument := telemetry.InstrumentResty(httpClient, tel, opts.MessageOutput)

	return &Client{
		BaseUrl:    baseUrl,
		Http:       httpClient,
		opts:       opts,
		tel:        tel,
		instrument: instrument,
	}, nil
}

// Login creates a client and logs it in, this is the only way to obtain a
// session that can see course pages.
func Login(ctx context.Context, opts ClientOptions, creds Credentials) (*Client, error) {
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	err = client.LoginUsernamePassword(ctx, creds)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) Sesskey() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sesskey
}

func (c *Client) setSesskey(sesskey string) {
	if sesskey == "" {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sesskey = sesskey
}

func (c *Client) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) LoginUsernamePassword(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "client:LoginUsernamePassword")
	defer span.End()

	loginError := func(err error) error {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("moodle scraper: login failed: %w", err)
	}

	if creds.Username == "" || creds.Password == "" {
		return loginError(ErrMissingCredentials)
	}

	ctx, cancel := c.withTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login/index.php")
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("not-logged-in page request: %w", err),
		)
		return loginError(err)
	}
	if res.IsError() {
		return loginError(&HttpStatusError{Code: res.StatusCode()})
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("parse not-logged-in page: %w", err),
		)
		return loginError(err)
	}

	logintoken := doc.Find("input[name=logintoken]").AttrOr("value", "")
	if logintoken == "" {
		err := fmt.Errorf("could not find login token")
		c.tel.ReportBroken(report_client_login_username_password, err)
		return loginError(err)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"logintoken": logintoken,
			"username":   creds.Username,
			"password":   creds.Password,
		}).
		Post("/login/index.php")
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("login request: %w", err),
		)
		return loginError(err)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		Get("/")
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("request dashboard: %w", err),
		)
		return loginError(err)
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("parse dashboard page: %w", err),
		)
		return loginError(err)
	}

	if len(doc.Find("span.avatar.current").Nodes) == 0 {
		c.tel.ReportWarning(
			report_client_login_username_password,
			fmt.Errorf("test login: could not find span.avatar.current"),
		)
		return loginError(ErrInvalidCredentials)
	}

	c.setSesskey(parseSesskey(doc))
	c.tel.ReportDebug("logged in", creds.Username)
	return nil
}

func isLoginPage(u *url.URL) bool {
	return strings.Contains(u.Path, "/login/")
}

// checkResponse turns a response into ErrAuthRequired if it ended up on the
// login page, or into a HttpStatusError if it wasn't successful.
func checkResponse(res *http.Response) error {
	if res == nil {
		return fmt.Errorf("no response")
	}
	if res.Request != nil && isLoginPage(res.Request.URL) {
		return ErrAuthRequired
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &HttpStatusError{Code: res.StatusCode}
	}
	return nil
}
