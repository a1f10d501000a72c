package cmd

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
	"github.com/theakshaypant/studysync/internal/service"
	"github.com/theakshaypant/studysync/internal/util"
)

var connectCmd = &cobra.Command{
	Use:   "connect <google|microsoft>",
	Short: "Connect a calendar account",
	Long: `Connect a Google or Microsoft calendar through the provider's consent page.

A temporary server listens on the host and path of oauth.redirect_url, so that
URL must point at this machine (e.g. http://localhost:8080/api/v1/calendar/callback)
and be registered with the provider exactly as configured.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().String("email", "", "Require the calendar account to use this email")
	connectCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for consent")
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}}</title>
	<style>
		body { font-family: -apple-system, sans-serif; display: flex;
		       justify-content: center; align-items: center; height: 100vh;
		       margin: 0; background: #1a1a1a; color: #fff; }
		.card { background: #2d2d2d; padding: 40px; border-radius: 12px;
		        box-shadow: 0 2px 10px rgba(0,0,0,0.3); max-width: 520px; }
		h1 { color: {{if .OK}}#4ade80{{else}}#f87171{{end}}; margin-bottom: 10px; }
		p, li { color: #a1a1aa; }
	</style>
</head>
<body>
	<div class="card">
		<h1>{{.Title}}</h1>
		<p>{{.Message}}</p>
		{{if .Remedy}}<ol>{{range .Remedy}}<li>{{.}}</li>{{end}}</ol>{{end}}
		<p>You can close this window and return to the terminal.</p>
	</div>
</body>
</html>
`))

type callbackView struct {
	OK      bool
	Title   string
	Message string
	Remedy  []string
}

type callbackResult struct {
	integ *core.CalendarIntegration
	err   error
}

func runConnect(cmd *cobra.Command, args []string) error {
	p, ok := core.ParseProvider(args[0])
	if !ok {
		return fmt.Errorf("unknown provider: %s (supported: google, microsoft)", args[0])
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	redirect, err := url.Parse(a.cfg.OAuth.RedirectURL)
	if err != nil || redirect.Host == "" {
		return fmt.Errorf("oauth.redirect_url %q is not an absolute URL", a.cfg.OAuth.RedirectURL)
	}

	email, _ := cmd.Flags().GetString("email")
	authURL, err := a.svc.ConnectCalendar(userID, p, email)
	if err != nil {
		return explain(err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	integ, err := awaitCallback(cmd.Context(), a.svc, redirect, authURL, timeout)
	if err != nil {
		return explain(err)
	}

	fmt.Printf("\n✅ Connected %s calendar", integ.Provider)
	if integ.CalendarEmail != "" {
		fmt.Printf(" for %s", integ.CalendarEmail)
	}
	fmt.Println()
	fmt.Println("\nRun 'studysync sync --plan <id>' to push a plan's sessions.")
	return nil
}

// awaitCallback serves the redirect URI until the provider calls back once.
func awaitCallback(ctx context.Context, svc *service.Calendar, redirect *url.URL, authURL string, timeout time.Duration) (*core.CalendarIntegration, error) {
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		integ, err := svc.HandleCallback(r.Context(), service.Callback{
			State:            q.Get("state"),
			Code:             q.Get("code"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		})

		view := callbackView{OK: true, Title: "Calendar Connected"}
		status := http.StatusOK
		if err != nil {
			view = callbackView{Title: "Connection Failed", Message: err.Error()}
			var e *errs.Error
			if errors.As(err, &e) {
				view.Message = e.Message
				view.Remedy = e.Remedy
			}
			status = errs.HTTPStatus(err)
		} else {
			view.Message = "Study sessions can now be synced to " + string(integ.Provider) + "."
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = callbackPage.Execute(w, view)

		select {
		case results <- callbackResult{integ: integ, err: err}:
		default:
		}
	})

	ln, err := net.Listen("tcp", listenAddr(redirect))
	if err != nil {
		return nil, fmt.Errorf("listen for OAuth callback: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case results <- callbackResult{err: err}:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Println("🔐 Opening browser for calendar authorization...")
	fmt.Println()

	if err := openBrowser(authURL); err != nil {
		fmt.Println("⚠️  Couldn't open browser automatically.")
		fmt.Println("   Please open this URL manually:")
		fmt.Println(util.MakeHyperlink(authURL, authURL))
	}

	fmt.Println("⏳ Waiting for authorization...")

	select {
	case res := <-results:
		return res.integ, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for authorization")
	}
}

// listenAddr binds the redirect port on loopback when the host is local.
func listenAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	host := u.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func openBrowser(target string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "linux":
		cmd = exec.Command("xdg-open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}
