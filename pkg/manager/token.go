package manager

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/droverd/drover/pkg/types"
)

// clusterTokenKey is the cluster-meta key holding the join token.
const clusterTokenKey = "join_token"

// generateToken returns a fresh random join token.
func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate join token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// loadJoinToken resolves the cluster join token: an explicitly configured
// token wins, then a previously persisted one, else a new token is
// generated and persisted. Agents present it at registration.
func (m *Manager) loadJoinToken(configured string) error {
	if configured != "" {
		m.joinToken = configured
		return m.store.PutClusterMeta(clusterTokenKey, configured)
	}

	stored, err := m.store.GetClusterMeta(clusterTokenKey)
	if err != nil {
		return fmt.Errorf("load join token: %w", err)
	}
	if stored != "" {
		m.joinToken = stored
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	if err := m.store.PutClusterMeta(clusterTokenKey, token); err != nil {
		return fmt.Errorf("persist join token: %w", err)
	}
	m.joinToken = token
	m.logger.Info().Msg("generated cluster join token")
	return nil
}

// JoinToken returns the current cluster join token.
func (m *Manager) JoinToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joinToken
}

// RotateJoinToken replaces the join token. Registered nodes are unaffected;
// only future registrations need the new token.
func (m *Manager) RotateJoinToken() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := m.store.PutClusterMeta(clusterTokenKey, token); err != nil {
		return "", fmt.Errorf("persist join token: %w", err)
	}

	m.mu.Lock()
	m.joinToken = token
	m.mu.Unlock()

	m.logger.Info().Msg("cluster join token rotated")
	return token, nil
}

// ValidateJoinToken checks a token presented at node registration.
func (m *Manager) ValidateJoinToken(token string) error {
	m.mu.RLock()
	current := m.joinToken
	m.mu.RUnlock()

	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(current)) != 1 {
		return fmt.Errorf("%w: invalid join token", types.ErrPermissionDenied)
	}
	return nil
}
