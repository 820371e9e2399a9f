package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	"golang.org/x/term"
)

const authTimeout = 30 * time.Second

// PasswordAuth implements domain.AuthFlow with an email/password grant
type PasswordAuth struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger

	in           io.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
}

// NewPasswordAuth creates an interactive sign-in flow against baseURL
func NewPasswordAuth(baseURL, anonKey string, logger *slog.Logger) *PasswordAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordAuth{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: authTimeout,
		},
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

// Run prompts for credentials and signs in
func (f *PasswordAuth) Run(ctx context.Context) (*domain.AuthResult, error) {
	fmt.Fprintln(f.out)
	fmt.Fprintln(f.out, "Sign in")
	fmt.Fprintln(f.out, "━━━━━━━")

	reader := bufio.NewReader(f.in)
	fmt.Fprint(f.out, "Email: ")
	email, err := reader.ReadString('\n')
	if err != nil && email == "" {
		return nil, fmt.Errorf("failed to read email: %w", err)
	}
	email = strings.TrimSpace(email)

	// Prompt for password (hidden input)
	fmt.Fprint(f.out, "Password: ")
	passwordBytes, err := f.readPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(f.out)

	result, err := f.SignIn(ctx, email, string(passwordBytes))
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(f.out, "Signed in as", result.Email)
	return result, nil
}

// SignIn exchanges credentials for an access token without prompting
func (f *PasswordAuth) SignIn(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	bodyBytes, err := json.Marshal(tokenRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := f.baseURL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", f.anonKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("auth request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		var ae authError
		_ = json.Unmarshal(respBody, &ae)
		f.logger.Warn("sign-in rejected", "status", resp.StatusCode, "error", ae.Error, "description", ae.ErrorDescription)
		return nil, domain.ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		f.logger.Error("auth error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("authentication failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if tr.AccessToken == "" || tr.User.ID == "" {
		return nil, fmt.Errorf("auth response missing token or user")
	}

	return &domain.AuthResult{
		Token:  tr.AccessToken,
		UserID: tr.User.ID,
		Email:  tr.User.Email,
	}, nil
}
