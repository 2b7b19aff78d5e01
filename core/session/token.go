package session

import (
	"github.com/golang-jwt/jwt/v5"
)

// accessTokenExpiry reads the exp claim of a JWT access token without verifying its
// signature. ok is false if the token is not a JWT or carries no expiry.
func accessTokenExpiry(token string) (exp int64, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return 0, false
	}
	return expiry.Unix(), true
}

// CheckLogin is a local pre-flight check. It reports false when there is no access token
// or the token's expiry has passed, clearing the session in the latter case. No request
// is made; the server stays authoritative, so true only means "worth trying".
func (m *Manager) CheckLogin() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	access, err := m.jar.Get(AccessTokenName)
	if err != nil {
		return false, err
	}
	if access == "" {
		return false, nil
	}

	exp, ok := accessTokenExpiry(access)
	if !ok {
		return true, nil
	}
	if m.now().Unix() >= exp {
		m.logger.Info("Access token expired locally, clearing session")
		if err := m.jar.Remove(AccessTokenName, RefreshTokenName, SaltName); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
