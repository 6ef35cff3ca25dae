// Package auth resolves request credentials to a Principal. The security core
// never sees raw credentials; it consumes only the resolved principal and its
// role set.
package auth

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/dls-engine/go-core/pkg/types"
)

// BCryptCost is the cost parameter used when hashing new user passwords.
const BCryptCost = 10

// dummyHash is compared against for unknown users so lookup misses cost the
// same as password mismatches.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), BCryptCost)

// Authenticator verifies basic-auth credentials against a users file and
// resolves the authenticated user's roles from a users_roles mapping.
type Authenticator struct {
	mu     sync.RWMutex
	users  map[string]string   // username -> bcrypt hash
	roles  map[string][]string // username -> role names
	logger *zap.Logger
}

// usersFile is the on-disk credential document:
//
//	users:
//	  user1: $2a$10$...
//	users_roles:
//	  role1: user1
//	  role2: user1,user2
type usersFile struct {
	Users      map[string]string `yaml:"users"`
	UsersRoles map[string]string `yaml:"users_roles"`
}

// NewAuthenticator creates an empty authenticator.
func NewAuthenticator(logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		users:  make(map[string]string),
		roles:  make(map[string][]string),
		logger: logger,
	}
}

// LoadFile loads users and role assignments from a YAML file, replacing the
// current set.
func (a *Authenticator) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read users file: %w", err)
	}
	return a.Load(content)
}

// Load parses a users document, replacing the current set.
func (a *Authenticator) Load(content []byte) error {
	var file usersFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("failed to parse users file: %w", err)
	}

	users := make(map[string]string, len(file.Users))
	for name, hash := range file.Users {
		users[name] = hash
	}

	roles := make(map[string][]string)
	for role, members := range file.UsersRoles {
		for _, member := range strings.Split(members, ",") {
			member = strings.TrimSpace(member)
			if member == "" {
				continue
			}
			roles[member] = append(roles[member], role)
		}
	}
	for _, names := range roles {
		sort.Strings(names)
	}

	a.mu.Lock()
	a.users = users
	a.roles = roles
	a.mu.Unlock()

	a.logger.Info("User configuration loaded",
		zap.Int("users", len(users)),
	)
	return nil
}

// AddUser registers a user with a bcrypt-hashed password and role set.
func (a *Authenticator) AddUser(username, password string, roles []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[username] = string(hash)
	a.roles[username] = append([]string(nil), roles...)
	return nil
}

// Authenticate verifies a username/password pair and returns the resolved
// principal. The error is identical for unknown users and wrong passwords.
func (a *Authenticator) Authenticate(username, password string) (*types.Principal, error) {
	a.mu.RLock()
	hash, ok := a.users[username]
	roles := a.roles[username]
	a.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrAuthenticationFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		a.logger.Debug("Password verification failed",
			zap.String("user", username),
		)
		return nil, ErrAuthenticationFailed
	}

	return &types.Principal{
		ID:    username,
		Roles: append([]string(nil), roles...),
	}, nil
}

// Roles returns the role names assigned to a user.
func (a *Authenticator) Roles(username string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.roles[username]...)
}
