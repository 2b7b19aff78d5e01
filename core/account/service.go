package account

import (
	"context"
	"fmt"
	"net/http"

	"github.com/yeti47/cryovault/core/ccc/logging"
	"github.com/yeti47/cryovault/core/encryption"
	"github.com/yeti47/cryovault/core/session"
	"github.com/yeti47/cryovault/core/vault"
)

const (
	registerPath         = "/api/register"
	confirmTwoFactorPath = "/api/confirm2fa"
	tokenPath            = "/api/token"
	recoveryPath         = "/api/recovery"
)

// Session is the part of session.Manager the account flows need.
type Session interface {
	Do(ctx context.Context, req session.Request) (*session.Response, error)
	Establish(credential session.Credential) error
	CheckLogin() (bool, error)
	Username() (string, error)
	SetUsername(username string) error
	Clear() error
	ClearAll() error
}

// SaltSource provides the user's key derivation salt. vault.Client implements it.
type SaltSource interface {
	Salt(ctx context.Context) (string, error)
}

// KeySealer encrypts under explicit keys. encryption.VaultCipher implements it.
type KeySealer interface {
	SealWithKey(key *encryption.DerivedKey, plaintext []byte) (*encryption.EncryptedPayload, error)
	OpenWithKey(key *encryption.DerivedKey, ciphertext, iv []byte) ([]byte, error)
}

// Registration is the server's answer to a new account.
type Registration struct {
	Message string `json:"message"`
	// URI is the otpauth provisioning URI for the second factor.
	URI  string `json:"uri"`
	Salt string `json:"salt"`
}

// Status describes the local state of the account on this device.
type Status struct {
	Username    string
	LoggedIn    bool
	KeyResident bool
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type confirmTwoFactorRequest struct {
	User string `json:"user"`
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TwoFA    string `json:"twoFA,omitempty"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type recoveryRequest struct {
	IV       vault.Bytes `json:"iv,omitempty"`
	Password vault.Bytes `json:"password,omitempty"`
	Secret   string      `json:"secret"`
	Username string      `json:"username"`
	Verify   bool        `json:"verify"`
}

type recoveryResponse struct {
	Password vault.Bytes `json:"password"`
	IV       vault.Bytes `json:"iv"`
	Salt     string      `json:"salt"`
}

// Service runs the account flows: registration, login, unlock, recovery and logout.
// It ties the session, the key custodian and the cipher together.
type Service struct {
	logger     logging.Logger
	session    Session
	salts      SaltSource
	custodian  encryption.KeyCustodian
	sealer     KeySealer
	iterations int
}

type Option func(*Service)

// WithIterations sets the PBKDF2 iteration count used for every derivation.
func WithIterations(iterations int) Option {
	return func(s *Service) {
		s.iterations = iterations
	}
}

func NewService(logger logging.Logger, session Session, salts SaltSource, custodian encryption.KeyCustodian, sealer KeySealer, opts ...Option) *Service {
	s := &Service{
		logger:     logging.OrNop(logger),
		session:    session,
		salts:      salts,
		custodian:  custodian,
		sealer:     sealer,
		iterations: encryption.DefaultIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) deriveKey(secret, salt string) (*encryption.DerivedKey, error) {
	return encryption.DeriveKey(secret, salt, encryption.WithIterations(s.iterations))
}

// Register creates an account on the server. Whatever account was active on this
// device is logged out and the new username is remembered, so the second factor and
// the recovery secret can be set up before the first login.
func (s *Service) Register(ctx context.Context, username, password string) (*Registration, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	resp, err := s.session.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   registerPath,
		Body:   registerRequest{Username: username, Password: password},
		Public: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	var registration Registration
	if err := resp.Decode(&registration); err != nil {
		return nil, err
	}

	if err := s.Logout(); err != nil {
		return nil, err
	}
	if err := s.session.SetUsername(username); err != nil {
		return nil, fmt.Errorf("failed to persist username: %w", err)
	}

	s.logger.Info("Account registered", "username", username)
	return &registration, nil
}

// ConfirmTwoFactor tells the server that username has added the provisioning URI to
// an authenticator. The server refuses logins of accounts that never confirmed.
func (s *Service) ConfirmTwoFactor(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	_, err := s.session.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   confirmTwoFactorPath,
		Body:   confirmTwoFactorRequest{User: username},
		Public: true,
	})
	if err != nil {
		return fmt.Errorf("failed to confirm 2FA: %w", err)
	}

	s.logger.Info("2FA confirmed", "username", username)
	return nil
}

// Login authenticates against the server, then derives the vault key from password
// and the user's salt and stores it. If the key cannot be stored the session is
// discarded again.
func (s *Service) Login(ctx context.Context, username, password, twoFA string) error {
	resp, err := s.session.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   tokenPath,
		Body:   tokenRequest{Username: username, Password: password, TwoFA: twoFA},
		Public: true,
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	var tokens tokenResponse
	if err := resp.Decode(&tokens); err != nil {
		return err
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return fmt.Errorf("failed to log in: server returned no token pair")
	}

	// a previous user's cached salt must not survive
	if err := s.session.Clear(); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	if err := s.session.Establish(session.Credential{AccessToken: tokens.Access, RefreshToken: tokens.Refresh}); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.session.SetUsername(username); err != nil {
		return fmt.Errorf("failed to persist username: %w", err)
	}

	if err := s.installKey(ctx, password); err != nil {
		s.logger.Error("Failed to set up vault key after login", "username", username, "error", err)
		if logoutErr := s.Logout(); logoutErr != nil {
			s.logger.Error("Failed to log out", "error", logoutErr)
		}
		return err
	}

	s.logger.Info("Logged in", "username", username)
	return nil
}

// Unlock re-derives the vault key for an existing session, e.g. after the key was
// deleted on this device.
func (s *Service) Unlock(ctx context.Context, password string) error {
	if err := s.installKey(ctx, password); err != nil {
		return err
	}
	s.logger.Info("Vault unlocked")
	return nil
}

func (s *Service) installKey(ctx context.Context, password string) error {
	salt, err := s.salts.Salt(ctx)
	if err != nil {
		return err
	}

	key, err := s.deriveKey(password, salt)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	return s.custodian.Store(key)
}

// SetRecoverySecret registers recoverySecret with the server. The master password is
// encrypted under a key derived from recoverySecret and the user's salt, so only the
// holder of the recovery secret can get it back. The active vault key is not touched.
//
// Right after registration pass the username and the salt from the Registration; the
// server refuses logins until a recovery secret exists. An empty username falls back
// to the remembered one and an empty salt is fetched with the current session.
func (s *Service) SetRecoverySecret(ctx context.Context, username, salt, recoverySecret, masterPassword string) error {
	if recoverySecret == "" || masterPassword == "" {
		return fmt.Errorf("recovery secret and master password are required")
	}

	if username == "" {
		stored, err := s.session.Username()
		if err != nil {
			return err
		}
		if stored == "" {
			return session.NewSessionExpiredError("not logged in")
		}
		username = stored
	}
	if salt == "" {
		fetched, err := s.salts.Salt(ctx)
		if err != nil {
			return err
		}
		salt = fetched
	}

	recoveryKey, err := s.deriveKey(recoverySecret, salt)
	if err != nil {
		return fmt.Errorf("failed to derive recovery key: %w", err)
	}
	sealed, err := s.sealer.SealWithKey(recoveryKey, []byte(masterPassword))
	if err != nil {
		return err
	}

	_, err = s.session.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   recoveryPath,
		Body: recoveryRequest{
			IV:       sealed.IV,
			Password: sealed.Ciphertext,
			Secret:   recoverySecret,
			Username: username,
			Verify:   false,
		},
		Public: true,
	})
	if err != nil {
		return s.recoveryError("failed to set recovery secret", err)
	}

	s.logger.Info("Recovery secret set", "username", username)
	return nil
}

// Recover verifies recoverySecret with the server and unwraps the master password it
// protects. Any session on this device is discarded and the vault key is replaced by
// one derived from the recovered password. The password is returned so the user can
// log in again.
func (s *Service) Recover(ctx context.Context, username, recoverySecret string) (string, error) {
	resp, err := s.session.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   recoveryPath,
		Body:   recoveryRequest{Secret: recoverySecret, Username: username, Verify: true},
		Public: true,
	})
	if err != nil {
		return "", s.recoveryError("failed to verify recovery secret", err)
	}

	var recovered recoveryResponse
	if err := resp.Decode(&recovered); err != nil {
		return "", err
	}

	recoveryKey, err := s.deriveKey(recoverySecret, recovered.Salt)
	if err != nil {
		return "", fmt.Errorf("failed to derive recovery key: %w", err)
	}
	masterPassword, err := s.sealer.OpenWithKey(recoveryKey, recovered.Password, recovered.IV)
	if err != nil {
		return "", fmt.Errorf("failed to unwrap master password: %w", err)
	}

	key, err := s.deriveKey(string(masterPassword), recovered.Salt)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	// tokens of whoever was logged in before must not pair with the recovered key
	if err := s.Logout(); err != nil {
		return "", err
	}
	if err := s.custodian.Store(key); err != nil {
		s.logger.Error("Failed to store recovered key", "username", username, "error", err)
		if logoutErr := s.Logout(); logoutErr != nil {
			s.logger.Error("Failed to log out", "error", logoutErr)
		}
		return "", err
	}
	if err := s.session.SetUsername(username); err != nil {
		return "", fmt.Errorf("failed to persist username: %w", err)
	}

	s.logger.Info("Account recovered", "username", username)
	return string(masterPassword), nil
}

func (s *Service) recoveryError(message string, err error) error {
	if serverErr, ok := session.AsServerError(err); ok && serverErr.StatusCode == http.StatusTooManyRequests {
		s.logger.Warn("Recovery attempts throttled")
		return NewThrottledError(serverErr.Message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Logout deletes the vault key and every session value, including the username.
func (s *Service) Logout() error {
	if err := s.custodian.Delete(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if err := s.session.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("Logged out")
	return nil
}

// Status reports the local state without contacting the server.
func (s *Service) Status() (*Status, error) {
	loggedIn, err := s.session.CheckLogin()
	if err != nil {
		return nil, err
	}
	username, err := s.session.Username()
	if err != nil {
		return nil, err
	}

	resident := true
	if _, err := s.custodian.Retrieve(); err != nil {
		if !encryption.IsKeyNotFoundError(err) {
			return nil, err
		}
		resident = false
	}

	return &Status{Username: username, LoggedIn: loggedIn, KeyResident: resident}, nil
}
