package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mauth/oidcsession/oidc"
)

// List of required configuration environment variables
const (
	clientID     = "OIDC_CLIENT_ID"
	clientSecret = "OIDC_CLIENT_SECRET"
	issuer       = "OIDC_ISSUER"
	port         = "OIDC_PORT"
)

const attemptExp = 2 * time.Minute

// envConfig builds a config from the OIDC_* environment variables. The
// endpoints are discovered from the issuer.
func envConfig(secretNotRequired bool) (*oidc.Config, string, error) {
	const op = "envConfig"
	env := map[string]string{
		clientID:     os.Getenv(clientID),
		clientSecret: os.Getenv(clientSecret),
		issuer:       os.Getenv(issuer),
		port:         os.Getenv(port),
	}
	for k, v := range env {
		switch {
		case k == clientSecret && secretNotRequired:
			env[k] = "" // unsetting the secret which isn't required
		case v == "":
			return nil, "", fmt.Errorf("%s: %s is empty", op, k)
		}
	}
	cfg := oidc.DefaultConfig()
	cfg.Issuer = env[issuer]
	cfg.ClientID = env[clientID]
	cfg.ClientSecret = oidc.ClientSecret(env[clientSecret])
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%s/callback", env[port])
	return &cfg, env[port], nil
}

func main() {
	configFile := flag.String("config", "", "yaml session config, used instead of the OIDC_* environment variables")
	listenPort := flag.String("port", "", "loopback port of the redirect URL when -config is used")
	useImplicit := flag.Bool("implicit", false, "use the implicit flow")
	storeKind := flag.String("store", "memory", "token store: memory, keyring or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address for -store redis")
	refresh := flag.Bool("refresh", false, "refresh the tokens once they are received")
	logout := flag.Bool("logout", false, "log out of the provider when done")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := hclog.Info
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "oidc-cli",
		Level:  level,
		Output: os.Stderr,
	})

	var cfg *oidc.Config
	var loopbackPort string
	var err error
	switch {
	case *configFile != "":
		cfg, err = oidc.LoadConfigFile(*configFile)
		loopbackPort = *listenPort
	default:
		cfg, loopbackPort, err = envConfig(*useImplicit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	if loopbackPort == "" {
		fmt.Fprint(os.Stderr, "the loopback port is empty, use -port\n")
		return
	}
	if *useImplicit {
		cfg.ResponseType = ""
	} else if cfg.ResponseType == "" {
		cfg.ResponseType = "code"
	}

	// handle ctrl-c while waiting for the callback
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := newStore(ctx, *storeKind, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	defer closeStore()

	loc := oidc.NewBrowserLocation(cfg.RedirectURL)
	s, err := oidc.NewSession(ctx, *cfg, st, oidc.WithLogger(logger.Named("session")), oidc.WithLocation(loc))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	unsubscribe := s.Events().Subscribe(func(ev oidc.Event) {
		switch e := ev.(type) {
		case oidc.ErrorEvent:
			logger.Warn("session event", "type", e.Type, "reason", e.Reason)
		default:
			logger.Debug("session event", "type", ev.EventType())
		}
	})
	defer unsubscribe()

	if cfg.AuthorizeEndpoint == "" {
		if _, err := s.LoadDiscoveryDocument(ctx, ""); err != nil {
			fmt.Fprintf(os.Stderr, "unable to load discovery document: %s", err)
			return
		}
	}

	app := &app{session: s, location: loc, logger: logger, done: make(chan error, 1)}
	router, err := app.routes(*useImplicit)
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", loopbackPort))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	srv := &http.Server{Handler: router, ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second}
	srvCh := make(chan error, 1)
	// Start local server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			srvCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Opens the default browser to the authorization URL.
	fmt.Fprint(os.Stderr, "Complete the login via your OIDC provider. Launching browser...\n\n")
	if *useImplicit {
		err = s.InitImplicitFlow(ctx, nil)
	} else {
		err = s.InitAuthorizationCode(ctx, nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error attempting to automatically open browser: '%s'.\n", err)
		return
	}

	// Wait for either the callback to finish, SIGINT to be received or up to 2 minutes
	select {
	case err := <-srvCh:
		fmt.Fprintf(os.Stderr, "server closed with error: %s", err.Error())
		return
	case err := <-app.done:
		if err != nil {
			fmt.Fprintf(os.Stderr, "callback error: %s\n", err)
			return
		}
	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "Interrupted")
		return
	case <-time.After(attemptExp):
		fmt.Fprintf(os.Stderr, "Timed out waiting for response from provider")
		return
	}

	printTokens(ctx, s)
	printUserInfo(ctx, s)
	if *refresh {
		if _, err := s.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %s\n", err)
		} else {
			fmt.Fprint(os.Stderr, "tokens refreshed.\n")
			printTokens(ctx, s)
		}
	}
	if *logout {
		if err := s.Logout(ctx, false); err != nil {
			fmt.Fprintf(os.Stderr, "logout failed: %s\n", err)
		}
	}
}

type respToken struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// printTokens prints the stored tokens. The session's token types redact
// themselves, so they are converted to strings first.
func printTokens(ctx context.Context, s *oidc.Session) {
	const op = "printTokens"
	idToken, err := s.IdToken(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	accessToken, err := s.AccessToken(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	refreshToken, err := s.RefreshToken(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	expiry, err := s.AccessTokenExpiration(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	scopes, err := s.GrantedScopes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	tokenData, err := json.MarshalIndent(respToken{
		IDToken:      string(idToken),
		AccessToken:  string(accessToken),
		RefreshToken: string(refreshToken),
		Expiry:       expiry,
		Scopes:       scopes,
	}, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "Tokens:%s\n", tokenData)
}

func printUserInfo(ctx context.Context, s *oidc.Session) {
	const op = "printUserInfo"
	if s.Config().UserInfoEndpoint == "" {
		fmt.Fprintf(os.Stderr, "%s: the provider has no userinfo endpoint\n", op)
		return
	}
	claims, err := s.LoadUserProfile(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: error getting UserInfo claims: %s\n", op, err)
		return
	}
	infoData, err := json.MarshalIndent(claims, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "Identity claims:%s\n", infoData)
}
