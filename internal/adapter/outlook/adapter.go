package outlook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/microsoft/kiota-abstractions-go/authentication"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/theakshaypant/studysync/internal/adapter"
	"github.com/theakshaypant/studysync/internal/core"
)

// DefaultCalendarID names the single calendar used for Microsoft accounts.
const DefaultCalendarID = "default"

// staticToken feeds an already fresh access token to the Graph SDK.
// Token refresh is owned by the caller, not by the SDK.
type staticToken string

func (s staticToken) GetAuthorizationToken(_ context.Context, _ *url.URL, _ map[string]interface{}) (string, error) {
	return string(s), nil
}

func (s staticToken) GetAllowedHostsValidator() *authentication.AllowedHostsValidator {
	return &authentication.AllowedHostsValidator{}
}

// OutlookAdapter implements core.ProviderAdapter for Microsoft Outlook / Office 365
// using the official Microsoft Graph SDK.
type OutlookAdapter struct {
	config *oauth2.Config
	// graphBase overrides https://graph.microsoft.com/v1.0 (tests)
	graphBase string
	log       *zap.Logger
}

var _ core.ProviderAdapter = (*OutlookAdapter)(nil)

// Option configures an OutlookAdapter.
type Option func(*OutlookAdapter)

// WithGraphBase sends Graph calls to base instead of graph.microsoft.com.
func WithGraphBase(base string) Option {
	return func(o *OutlookAdapter) { o.graphBase = strings.TrimSuffix(base, "/") }
}

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(url string) Option {
	return func(o *OutlookAdapter) { o.config.Endpoint.TokenURL = url }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *OutlookAdapter) { o.log = l }
}

func NewOutlookAdapter(clientID, clientSecret, tenantID string, opts ...Option) *OutlookAdapter {
	if tenantID == "" {
		tenantID = "common"
	}
	o := &OutlookAdapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenantID),
			Scopes: []string{
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
			},
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OutlookAdapter) Name() core.ProviderName { return core.Microsoft }

// AuthURL lets the user pick the account, which matters for the email match check.
func (o *OutlookAdapter) AuthURL(state, redirectURI string) string {
	cfg := *o.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (o *OutlookAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (core.Tokens, error) {
	cfg := *o.config
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return core.Tokens{}, adapter.ClassifyExchangeError(err)
	}
	return adapter.TokensFrom(tok), nil
}

func (o *OutlookAdapter) RefreshToken(ctx context.Context, refreshToken string) (core.Tokens, error) {
	tok, err := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.Tokens{}, adapter.ClassifyRefreshError(err)
	}
	t := adapter.TokensFrom(tok)
	if t.RefreshToken == refreshToken {
		t.RefreshToken = ""
	}
	return t, nil
}

// client builds a Graph client bound to one access token.
func (o *OutlookAdapter) client(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	auth := authentication.NewBaseBearerTokenAuthenticationProvider(staticToken(accessToken))
	ra, err := msgraphsdk.NewGraphRequestAdapter(auth)
	if err != nil {
		return nil, fmt.Errorf("create graph adapter: %w", err)
	}
	if o.graphBase != "" {
		ra.SetBaseUrl(o.graphBase)
	}
	return msgraphsdk.NewGraphServiceClient(ra), nil
}

func (o *OutlookAdapter) FetchIdentityEmail(ctx context.Context, accessToken string) (string, error) {
	client, err := o.client(accessToken)
	if err != nil {
		return "", err
	}
	me, err := client.Me().Get(ctx, nil)
	if err != nil {
		return "", classifyGraphError("get profile", err)
	}
	if mail := derefStr(me.GetMail()); mail != "" {
		return mail, nil
	}
	return derefStr(me.GetUserPrincipalName()), nil
}

// ListCalendars returns the default calendar only; Microsoft accounts are
// synced to a single calendar.
func (o *OutlookAdapter) ListCalendars(_ context.Context, _ string) ([]core.CalendarRef, error) {
	return []core.CalendarRef{{
		ID:         DefaultCalendarID,
		Name:       "Calendar",
		Primary:    true,
		AccessRole: "owner",
	}}, nil
}
